package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"drift/internal/domain"
)

func writeTestConfig(t *testing.T, dir string, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}

func TestInitProject(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "drift")

	if err := InitProject(dir); err != nil {
		t.Fatalf("InitProject failed: %v", err)
	}

	if info, err := os.Stat(filepath.Join(dir, DefaultMigrationFolder)); err != nil || !info.IsDir() {
		t.Fatalf("expected migrations directory to be created: %v", err)
	}

	data, err := os.ReadFile(ConfigPath(dir))
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	var cfg DriftConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("config is not valid JSON: %v", err)
	}
	if cfg.MigrationFolder != DefaultMigrationFolder {
		t.Errorf("expected migration folder %q, got %q", DefaultMigrationFolder, cfg.MigrationFolder)
	}
	if cfg.Envs[DefaultEnv] != EnvTemplate {
		t.Errorf("expected dev env to match template, got %+v", cfg.Envs[DefaultEnv])
	}

	// 2回目はエラー
	if err := InitProject(dir); !errors.Is(err, domain.ErrConfigAlreadyExists) {
		t.Errorf("expected ErrConfigAlreadyExists, got %v", err)
	}
}

func TestLoadProject(t *testing.T) {
	t.Setenv("DRIFT_MONGO_HOST", "")
	t.Setenv("DRIFT_DSN", "")

	dir := t.TempDir()
	writeTestConfig(t, dir, `{
  "migration_folder": "changes",
  "envs": {
    "dev": {"mongo_host": "mongodb://dev:27017", "mongo_db": "app", "mongo_collection": "drift_log"},
    "Local": {"driver": "sqlite", "dsn": "local.db", "mongo_collection": "drift_log"}
  }
}`)

	project, err := LoadProject(dir, "dev")
	if err != nil {
		t.Fatalf("LoadProject failed: %v", err)
	}
	if project.Env.Driver != DriverMongo {
		t.Errorf("expected default driver %q, got %q", DriverMongo, project.Env.Driver)
	}
	if project.Env.MongoHost != "mongodb://dev:27017" || project.Env.MongoDB != "app" || project.Env.MongoCollection != "drift_log" {
		t.Errorf("unexpected env config: %+v", project.Env)
	}
	if got, want := project.MigrationsDir(), filepath.Join(dir, "changes"); got != want {
		t.Errorf("expected migrations dir %q, got %q", want, got)
	}

	// 環境名は大文字小文字を区別しない
	project, err = LoadProject(dir, "local")
	if err != nil {
		t.Fatalf("LoadProject failed: %v", err)
	}
	if project.Env.Driver != DriverSQLite || project.Env.DSN != "local.db" {
		t.Errorf("unexpected env config: %+v", project.Env)
	}
}

func TestLoadProject_Overrides(t *testing.T) {
	t.Setenv("DRIFT_MONGO_HOST", "mongodb://ci:27017")
	t.Setenv("DRIFT_DSN", "ci.db")

	dir := t.TempDir()
	writeTestConfig(t, dir, `{"migration_folder": "migrations", "envs": {"dev": {"mongo_host": "mongodb://dev:27017", "mongo_db": "app", "mongo_collection": "log"}}}`)

	project, err := LoadProject(dir, "dev")
	if err != nil {
		t.Fatalf("LoadProject failed: %v", err)
	}
	if project.Env.MongoHost != "mongodb://ci:27017" {
		t.Errorf("expected overridden host, got %q", project.Env.MongoHost)
	}
	if project.Env.DSN != "ci.db" {
		t.Errorf("expected overridden dsn, got %q", project.Env.DSN)
	}
}

func TestLoadProject_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadProject(dir, "dev"); !errors.Is(err, domain.ErrConfigNotFound) {
		t.Errorf("expected ErrConfigNotFound, got %v", err)
	}

	writeTestConfig(t, dir, `{"migration_folder": "migrations", "envs": {"dev": {}}}`)
	if _, err := LoadProject(dir, "prod"); !errors.Is(err, domain.ErrEnvironmentNotFound) {
		t.Errorf("expected ErrEnvironmentNotFound, got %v", err)
	}
}

func TestAddEnv(t *testing.T) {
	dir := t.TempDir()
	if err := InitProject(dir); err != nil {
		t.Fatalf("InitProject failed: %v", err)
	}

	if err := AddEnv(dir, "staging"); err != nil {
		t.Fatalf("AddEnv failed: %v", err)
	}

	cfg, err := ReadConfig(dir)
	if err != nil {
		t.Fatalf("ReadConfig failed: %v", err)
	}
	if _, ok := cfg.Envs["staging"]; !ok {
		t.Error("expected staging env to be added")
	}
	if _, ok := cfg.Envs[DefaultEnv]; !ok {
		t.Error("expected dev env to be kept")
	}

	if err := AddEnv(dir, "staging"); !errors.Is(err, domain.ErrEnvironmentExists) {
		t.Errorf("expected ErrEnvironmentExists, got %v", err)
	}

	if err := AddEnv(t.TempDir(), "staging"); !errors.Is(err, domain.ErrConfigNotFound) {
		t.Errorf("expected ErrConfigNotFound, got %v", err)
	}
}

func TestAddEnv_DottedName(t *testing.T) {
	dir := t.TempDir()
	if err := InitProject(dir); err != nil {
		t.Fatalf("InitProject failed: %v", err)
	}

	if err := AddEnv(dir, "staging.eu"); err != nil {
		t.Fatalf("AddEnv failed: %v", err)
	}

	project, err := LoadProject(dir, "staging.eu")
	if err != nil {
		t.Fatalf("LoadProject failed: %v", err)
	}
	if project.Env.MongoHost != EnvTemplate.MongoHost {
		t.Errorf("expected template host, got %q", project.Env.MongoHost)
	}

	// 書き換え後も他の環境の設定が失われないこと
	if err := AddEnv(dir, "qa"); err != nil {
		t.Fatalf("AddEnv failed: %v", err)
	}
	cfg, err := ReadConfig(dir)
	if err != nil {
		t.Fatalf("ReadConfig failed: %v", err)
	}
	if got := cfg.Envs["staging.eu"]; got != EnvTemplate {
		t.Errorf("expected staging.eu to be kept, got %+v", got)
	}
	if _, ok := cfg.Envs["staging"]; ok {
		t.Error("expected no env split on the dot")
	}
	if len(cfg.Envs) != 3 {
		t.Errorf("expected 3 envs, got %d", len(cfg.Envs))
	}
}
