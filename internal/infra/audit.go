package infra

import (
	"context"
	"log/slog"
	"time"
)

// WriteAuditLog はマイグレーション操作の監査ログを出力する。
func WriteAuditLog(ctx context.Context, operation string, env string, filenames []string, result string) {
	slog.InfoContext(ctx, "migration operation completed",
		"operation", operation,
		"env", env,
		"filenames", filenames,
		"count", len(filenames),
		"result", result,
		"timestamp", time.Now().UTC().Format(time.RFC3339),
	)
}
