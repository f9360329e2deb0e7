package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"drift/config"
	"drift/internal/domain"
	"drift/internal/infra"
	"drift/internal/repository"
	"drift/internal/usecase"
	"drift/pkg/migration"
)

// statusView はstatusコマンドのJSON出力。
type statusView struct {
	Filename string `json:"filename"`
	Status   string `json:"status"`
	On       string `json:"on"`
}

// initCmd はdriftディレクトリとdrift.jsonを作成する。
func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the drift directory and drift.json",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.InitProject(a.dir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized drift in %s\n", a.dir)
			return nil
		},
	}
}

// createCmd はテンプレートから新しいマイグレーションを作成する。
func (a *app) createCmd() *cobra.Command {
	var goKind bool
	cmd := &cobra.Command{
		Use:   "create <description...>",
		Short: "Create a new migration from a template",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.ReadConfig(a.dir)
			if err != nil {
				return err
			}
			project := &config.Project{Dir: a.dir, Config: cfg}

			kind := domain.MigrationKindCommand
			if goKind {
				kind = domain.MigrationKindGo
			}

			// 作成は適用ログに接続しない
			store := repository.NewMigrationStore(project.MigrationsDir(), migration.Default)
			service := usecase.NewMigrationService(store, nil)

			filename, err := service.CreateMigration(strings.Join(args, " "), kind)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), filename)
			return nil
		},
	}
	cmd.Flags().BoolVar(&goKind, "go", false, "Create a Go migration registered with migration.Register")
	return cmd
}

// envCmd は新しい環境をdrift.jsonに追加する。
func (a *app) envCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env <name>",
		Short: "Add a new environment to drift.json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.AddEnv(a.dir, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added environment %q. Edit %s to configure it.\n", args[0], config.ConfigPath(a.dir))
			return nil
		},
	}
}

// statusCmd はマイグレーションの適用状態を表示する。
func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			service, _, err := a.newService()
			if err != nil {
				return err
			}

			entries, err := service.GetMigrationStatus(cmd.Context(), false)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			if a.output == "json" {
				views := make([]statusView, len(entries))
				for i, e := range entries {
					views[i] = statusView{Filename: e.Filename, Status: string(e.Status), On: e.AppliedAtString()}
				}
				return writeJSON(cmd.OutOrStdout(), views)
			}

			// テーブル形式で出力
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "FILENAME\tSTATUS\tAPPLIED AT")
			fmt.Fprintln(w, "--------\t------\t----------")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\n", e.Filename, e.Status, e.AppliedAtString())
			}
			if err := w.Flush(); err != nil {
				return fmt.Errorf("failed to flush output: %w", err)
			}
			return nil
		},
	}
}

// upCmd は未適用のマイグレーションを全て適用する。
func (a *app) upCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			service, project, err := a.newService()
			if err != nil {
				return err
			}

			migrated, err := service.Up(cmd.Context())
			if err != nil {
				infra.WriteAuditLog(cmd.Context(), "up", project.EnvName, migrated, "failure")
				// 途中まで適用されたものは表示する
				printErr := a.printFilenames(cmd.OutOrStdout(), migrated, "")
				return errors.Join(fmt.Errorf("migration failed: %w", err), printErr)
			}
			infra.WriteAuditLog(cmd.Context(), "up", project.EnvName, migrated, "success")

			return a.printFilenames(cmd.OutOrStdout(), migrated, "No pending migrations.")
		},
	}
}

// downCmd は最後に適用されたマイグレーションを1件取り消す。
func (a *app) downCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Revert the last applied migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			service, project, err := a.newService()
			if err != nil {
				return err
			}

			reverted, err := service.Down(cmd.Context())
			if err != nil {
				infra.WriteAuditLog(cmd.Context(), "down", project.EnvName, reverted, "failure")
				return fmt.Errorf("revert failed: %w", err)
			}
			infra.WriteAuditLog(cmd.Context(), "down", project.EnvName, reverted, "success")

			return a.printFilenames(cmd.OutOrStdout(), reverted, "No migrations to revert.")
		},
	}
}

// printFilenames はファイル名を1行ずつ表示する。空の場合はemptyを表示する。
func (a *app) printFilenames(w io.Writer, filenames []string, empty string) error {
	if a.output == "json" {
		if filenames == nil {
			filenames = []string{}
		}
		return writeJSON(w, filenames)
	}

	if len(filenames) == 0 {
		if empty == "" {
			return nil
		}
		_, err := fmt.Fprintln(w, empty)
		return err
	}
	for _, filename := range filenames {
		if _, err := fmt.Fprintln(w, filename); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
