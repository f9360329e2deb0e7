package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"drift/internal/domain"
)

const (
	// DefaultDir はdriftディレクトリの既定値。
	DefaultDir = "./drift"
	// DefaultEnv は対象環境の既定値。
	DefaultEnv = "dev"
	// ConfigFileName は設定ファイル名。
	ConfigFileName = "drift.json"
	// DefaultMigrationFolder はinitで作成されるマイグレーションフォルダ名。
	DefaultMigrationFolder = "migrations"
)

// 対応ドライバ
const (
	DriverMongo  = "mongo"
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
)

// DriftConfig はdrift.jsonの内容を表す。
type DriftConfig struct {
	MigrationFolder string               `json:"migration_folder" mapstructure:"migration_folder"`
	Envs            map[string]EnvConfig `json:"envs" mapstructure:"envs"`
}

// EnvConfig は環境ごとの接続設定。
// MongoCollectionは全ドライバ共通で適用ログの格納先（SQLではテーブル、boltではバケット）を指す。
type EnvConfig struct {
	Driver          string `json:"driver,omitempty" mapstructure:"driver"`
	MongoHost       string `json:"mongo_host" mapstructure:"mongo_host"`
	MongoDB         string `json:"mongo_db" mapstructure:"mongo_db"`
	MongoCollection string `json:"mongo_collection" mapstructure:"mongo_collection"`
	DSN             string `json:"dsn,omitempty" mapstructure:"dsn"`
}

// EnvTemplate は新しい環境に書き込まれる設定。
var EnvTemplate = EnvConfig{
	MongoHost:       "mongodb://localhost:27017",
	MongoDB:         "drift",
	MongoCollection: "migrations",
}

// Project は読み込み済みのdrift設定と選択された環境。
type Project struct {
	Dir     string
	EnvName string
	Config  *DriftConfig
	Env     EnvConfig
}

// MigrationsDir はマイグレーションフォルダのパスを返す。
func (p *Project) MigrationsDir() string {
	return filepath.Join(p.Dir, p.Config.MigrationFolder)
}

// ConfigPath はdrift.jsonのパスを返す。
func ConfigPath(dir string) string {
	return filepath.Join(dir, ConfigFileName)
}

// InitProject はdriftディレクトリとdrift.jsonを作成する。既に設定済みの場合はエラー。
func InitProject(dir string) error {
	path := ConfigPath(dir)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: edit %s to reconfigure", domain.ErrConfigAlreadyExists, path)
	}

	if err := os.MkdirAll(filepath.Join(dir, DefaultMigrationFolder), 0755); err != nil {
		return fmt.Errorf("failed to create migrations directory: %w", err)
	}

	cfg := &DriftConfig{
		MigrationFolder: DefaultMigrationFolder,
		Envs:            map[string]EnvConfig{DefaultEnv: EnvTemplate},
	}
	return writeConfig(path, cfg)
}

// ReadConfig はdrift.jsonを読み込む。
func ReadConfig(dir string) (*DriftConfig, error) {
	path := ConfigPath(dir)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat drift config: %w", err)
	}

	// 環境名に"."を含められるよう、キーの区切りを変更する
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetDefault("migration_folder", DefaultMigrationFolder)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading drift config %s: %w", path, err)
	}

	var cfg DriftConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode drift config: %w", err)
	}
	if cfg.Envs == nil {
		cfg.Envs = make(map[string]EnvConfig)
	}
	return &cfg, nil
}

// LoadProject はdrift.jsonを読み込み、指定された環境を選択する。
// 環境が存在しない場合はデータベースに接続する前にエラーを返す。
func LoadProject(dir, envName string) (*Project, error) {
	cfg, err := ReadConfig(dir)
	if err != nil {
		return nil, err
	}

	// viperはキーを小文字化するため、環境名は大文字小文字を区別しない
	env, ok := cfg.Envs[strings.ToLower(envName)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrEnvironmentNotFound, envName)
	}

	applyEnvOverrides(&env)
	if env.Driver == "" {
		env.Driver = DriverMongo
	}

	return &Project{
		Dir:     dir,
		EnvName: envName,
		Config:  cfg,
		Env:     env,
	}, nil
}

// applyEnvOverrides は接続先を環境変数で上書きする（CIで秘匿情報を渡すため）。
func applyEnvOverrides(env *EnvConfig) {
	v := viper.New()
	v.SetEnvPrefix("DRIFT")
	v.BindEnv("mongo_host")
	v.BindEnv("dsn")

	if host := v.GetString("mongo_host"); host != "" {
		env.MongoHost = host
	}
	if dsn := v.GetString("dsn"); dsn != "" {
		env.DSN = dsn
	}
}

// AddEnv はテンプレートから新しい環境を追加し、drift.jsonを書き換える。
func AddEnv(dir, envName string) error {
	cfg, err := ReadConfig(dir)
	if err != nil {
		return err
	}

	key := strings.ToLower(envName)
	if _, exists := cfg.Envs[key]; exists {
		return fmt.Errorf("%w: %s", domain.ErrEnvironmentExists, envName)
	}
	cfg.Envs[key] = EnvTemplate

	return writeConfig(ConfigPath(dir), cfg)
}

func writeConfig(path string, cfg *DriftConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode drift config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("could not write to drift config at %s: %w", path, err)
	}
	return nil
}
