// Package cli はdriftコマンドのcobraコマンド群を提供する。
// Goのマイグレーションを持つプロジェクトは、そのパッケージをblank importした上でExecuteを呼び出す。
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"
	"go.mongodb.org/mongo-driver/mongo"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gorm.io/gorm"

	"drift/config"
	"drift/internal/domain"
	"drift/internal/infra"
	"drift/internal/repository"
	"drift/internal/usecase"
	"drift/pkg/migration"
)

const version = "1.0.0"

// app はコマンド実行中に共有される状態。
type app struct {
	dir    string
	env    string
	output string

	cfg *config.Config
	tp  *sdktrace.TracerProvider
}

// newAppliedLog は環境設定のドライバに対応する適用ログを生成する。
var newAppliedLog = func(env config.EnvConfig) (usecase.AppliedLog, error) {
	switch env.Driver {
	case config.DriverMongo:
		return repository.NewMongoLogRepository(func(ctx context.Context) (*mongo.Client, error) {
			return infra.NewMongoClient(ctx, env.MongoHost)
		}, env.MongoDB, env.MongoCollection), nil
	case config.DriverMySQL, config.DriverSQLite:
		return repository.NewGormLogRepository(func() (*gorm.DB, error) {
			return infra.NewDB(env.Driver, env.DSN)
		}, env.MongoCollection), nil
	case config.DriverBolt:
		return repository.NewBoltLogRepository(func() (*bbolt.DB, error) {
			return infra.NewBoltDB(env.DSN)
		}, env.MongoCollection), nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownDriver, env.Driver)
	}
}

// NewRootCommand はdriftのルートコマンドを生成する。
func NewRootCommand() *cobra.Command {
	cmd, _ := newRootCommand()
	return cmd
}

func newRootCommand() (*cobra.Command, *app) {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "drift",
		Short:         "Database migration tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .envファイルを読み込む（存在しない場合は無視）
			_ = godotenv.Load()

			a.cfg = config.Load()
			if !cmd.Flags().Changed("dir") {
				a.dir = a.cfg.Dir
			}
			if !cmd.Flags().Changed("env") {
				a.env = a.cfg.Env
			}
			if a.output != "text" && a.output != "json" {
				return fmt.Errorf("unsupported output format: %s", a.output)
			}

			// トレーサー初期化（ロガー設定の前に実行）
			tp, err := infra.InitTracer(cmd.Context(), a.cfg, version)
			if err != nil {
				return fmt.Errorf("failed to init tracer: %w", err)
			}
			a.tp = tp

			infra.SetupLogger(a.cfg, cmd.ErrOrStderr())
			return nil
		},
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&a.dir, "dir", config.DefaultDir, "drift directory containing drift.json (or set DRIFT_DIR)")
	rootCmd.PersistentFlags().StringVar(&a.env, "env", config.DefaultEnv, "Target environment (or set DRIFT_ENV)")
	rootCmd.PersistentFlags().StringVar(&a.output, "output", "text", "Output format: text, json")

	// サブコマンド登録
	rootCmd.AddCommand(a.initCmd())
	rootCmd.AddCommand(a.createCmd())
	rootCmd.AddCommand(a.envCmd())
	rootCmd.AddCommand(a.statusCmd())
	rootCmd.AddCommand(a.upCmd())
	rootCmd.AddCommand(a.downCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd, a
}

// Execute はルートコマンドを実行し、失敗した場合は終了コード1で終了する。
func Execute() {
	rootCmd, a := newRootCommand()
	err := rootCmd.ExecuteContext(context.Background())
	a.shutdown(context.Background())

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// shutdown はトレーサーを停止し、残りのスパンを送信する。
func (a *app) shutdown(ctx context.Context) {
	if a.tp == nil {
		return
	}
	if err := a.tp.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown tracer", "error", err)
	}
}

// newService は選択された環境の接続先でMigrationServiceを組み立てる。
// 環境が存在しない場合は適用ログを生成しない。
func (a *app) newService() (*usecase.MigrationService, *config.Project, error) {
	project, err := config.LoadProject(a.dir, a.env)
	if err != nil {
		return nil, nil, err
	}

	appliedLog, err := newAppliedLog(project.Env)
	if err != nil {
		return nil, nil, err
	}

	store := repository.NewMigrationStore(project.MigrationsDir(), migration.Default)
	return usecase.NewMigrationService(store, appliedLog), project, nil
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "drift version %s\n", version)
		},
	}
}
