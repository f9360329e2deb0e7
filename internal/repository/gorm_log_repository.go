// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"drift/internal/domain"
	"drift/pkg/migration"
)

// AppliedMigrationModel は適用ログテーブルのモデル。テーブル名は設定で決まる。
type AppliedMigrationModel struct {
	Filename  string    `gorm:"column:filename;primaryKey;type:varchar(255)"`
	Status    string    `gorm:"column:status;type:varchar(32);not null"`
	AppliedAt time.Time `gorm:"column:applied_at;not null"`
}

// GormLogRepository はSQLデータベース上の適用ログ。
type GormLogRepository struct {
	open  func() (*gorm.DB, error)
	table string
	db    *gorm.DB
}

// NewGormLogRepository は新しいGormLogRepositoryを生成する。
// openはOpenのたびに呼ばれ、新しい接続を返す。
func NewGormLogRepository(open func() (*gorm.DB, error), table string) *GormLogRepository {
	return &GormLogRepository{open: open, table: table}
}

// Open はデータベースに接続し、適用ログテーブルを用意する。
func (r *GormLogRepository) Open(ctx context.Context) error {
	db, err := r.open()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	if err := db.WithContext(ctx).Table(r.table).AutoMigrate(&AppliedMigrationModel{}); err != nil {
		_ = sqlDB.Close()
		slog.ErrorContext(ctx, "failed to prepare migration log table",
			"operation", "open",
			"table", r.table,
			"error", err,
		)
		return fmt.Errorf("failed to prepare migration log table %s: %w", r.table, err)
	}

	r.db = db
	return nil
}

// Close は接続を閉じる。
func (r *GormLogRepository) Close(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	r.db = nil
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// FindAll は適用ログを全件取得する。
func (r *GormLogRepository) FindAll(ctx context.Context) ([]*domain.AppliedRecord, error) {
	if r.db == nil {
		return nil, domain.ErrNotConnected
	}

	var models []AppliedMigrationModel
	if err := r.db.WithContext(ctx).Table(r.table).Find(&models).Error; err != nil {
		slog.ErrorContext(ctx, "failed to find applied migrations",
			"operation", "find_all",
			"error", err,
		)
		return nil, err
	}

	records := make([]*domain.AppliedRecord, len(models))
	for i, model := range models {
		records[i] = &domain.AppliedRecord{
			Filename: model.Filename,
			Status:   domain.MigrationStatus(model.Status),
			On:       model.AppliedAt,
		}
	}
	return records, nil
}

// Insert は適用履歴を1件記録する。
func (r *GormLogRepository) Insert(ctx context.Context, record *domain.AppliedRecord) error {
	if r.db == nil {
		return domain.ErrNotConnected
	}

	model := &AppliedMigrationModel{
		Filename:  record.Filename,
		Status:    string(record.Status),
		AppliedAt: record.On,
	}
	if err := r.db.WithContext(ctx).Table(r.table).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to record migration",
			"operation", "insert",
			"filename", record.Filename,
			"error", err,
		)
		return err
	}
	return nil
}

// DeleteByFilename は指定されたファイル名の適用履歴を削除する。
func (r *GormLogRepository) DeleteByFilename(ctx context.Context, filename string) error {
	if r.db == nil {
		return domain.ErrNotConnected
	}

	err := r.db.WithContext(ctx).Table(r.table).
		Where("filename = ?", filename).
		Delete(&AppliedMigrationModel{}).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to delete migration record",
			"operation", "delete",
			"filename", filename,
			"error", err,
		)
		return err
	}
	return nil
}

// Target はマイグレーションに渡すハンドルを返す。
func (r *GormLogRepository) Target() migration.Target {
	return migration.Target{Gorm: r.db}
}
