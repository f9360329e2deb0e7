// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"os"
	"strconv"
)

// Config はプロセス全体の設定を表す。
type Config struct {
	Dir              string // driftディレクトリ（drift.jsonとマイグレーションフォルダを含む）
	Env              string // 対象環境名
	LogLevel         string
	LogFormat        string
	OtelEnabled      bool
	OtelEndpoint     string
	OtelInsecure     bool // コレクタへの接続にTLSを使わない
	OtelServiceName  string
	OtelSamplingRate float64
}

// Load は環境変数から設定を読み込む。
func Load() *Config {
	return &Config{
		Dir:              getEnv("DRIFT_DIR", DefaultDir),
		Env:              getEnv("DRIFT_ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", "INFO"),
		LogFormat:        getEnv("LOG_FORMAT", "text"),
		OtelEnabled:      getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OtelInsecure:     getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		OtelServiceName:  getEnv("OTEL_SERVICE_NAME", "drift"),
		OtelSamplingRate: getEnvFloat("OTEL_SAMPLING_RATE", 1.0),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return val
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultVal
	}
	return val
}
