// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"drift/internal/domain"
	"drift/pkg/migration"
)

var tracer = otel.Tracer("drift/internal/usecase")

// MigrationStore はマイグレーション定義の一覧と解決を行うインターフェース。
type MigrationStore interface {
	List(ctx context.Context) ([]string, error)
	Load(filename string) (migration.Migration, error)
	Create(description string, kind domain.MigrationKind) (string, error)
}

// AppliedLog は適用ログを管理するリポジトリのインターフェース。
// Openで接続した後でなければ他の操作は呼び出せない。
type AppliedLog interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	FindAll(ctx context.Context) ([]*domain.AppliedRecord, error)
	Insert(ctx context.Context, record *domain.AppliedRecord) error
	DeleteByFilename(ctx context.Context, filename string) error
	Target() migration.Target
}

// MigrationService はマイグレーションの状態計算と実行のビジネスロジックを提供する。
// 1つのMigrationServiceが適用ログへの接続（セッション）を所有する。
type MigrationService struct {
	store     MigrationStore
	log       AppliedLog
	now       func() time.Time
	connected bool
}

// NewMigrationService は新しいMigrationServiceを生成する。
func NewMigrationService(store MigrationStore, log AppliedLog) *MigrationService {
	return &MigrationService{
		store: store,
		log:   log,
		now:   time.Now,
	}
}

// acquire はセッションが未接続なら接続する。
func (s *MigrationService) acquire(ctx context.Context) error {
	if s.connected {
		return nil
	}
	if err := s.log.Open(ctx); err != nil {
		return err
	}
	s.connected = true
	return nil
}

// Close はセッションを閉じる。未接続の場合は何もしない。
func (s *MigrationService) Close(ctx context.Context) error {
	if !s.connected {
		return nil
	}
	s.connected = false
	return s.log.Close(ctx)
}

// release は操作の終了時にセッションを閉じる。
// 操作自体が失敗している場合はCloseのエラーをログに残し、元のエラーを優先する。
func (s *MigrationService) release(ctx context.Context, operation string, errp *error) {
	closeErr := s.Close(ctx)
	if closeErr == nil {
		return
	}
	if *errp != nil {
		slog.ErrorContext(ctx, "failed to close migration log connection",
			"operation", operation,
			"error", closeErr,
		)
		return
	}
	*errp = fmt.Errorf("failed to close migration log connection: %w", closeErr)
}

// CreateMigration はテンプレートから新しいマイグレーションを作成し、ファイル名を返す。
func (s *MigrationService) CreateMigration(description string, kind domain.MigrationKind) (string, error) {
	filename, err := s.store.Create(description, kind)
	if err != nil {
		slog.Error("failed to create migration",
			"operation", "create_migration",
			"description", description,
			"error", err,
		)
		return "", err
	}
	slog.Info("migration created", "operation", "create_migration", "filename", filename)
	return filename, nil
}

// GetMigrationStatus はマイグレーションファイルと適用ログを突き合わせ、ファイル順の状態一覧を返す。
// persistがtrueの場合、接続を開いたまま返す。呼び出し側はCloseを呼ぶこと。
// 失敗した場合はpersistに関わらず接続を閉じる。
func (s *MigrationService) GetMigrationStatus(ctx context.Context, persist bool) (entries []*domain.StatusEntry, err error) {
	ctx, span := tracer.Start(ctx, "MigrationService.GetMigrationStatus")
	defer endSpan(span, &err)

	entries, err = s.status(ctx)
	if err != nil || !persist {
		s.release(ctx, "get_migration_status", &err)
	}
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// status は状態一覧を計算する。接続は開いたままにする。
func (s *MigrationService) status(ctx context.Context) ([]*domain.StatusEntry, error) {
	// ディレクトリが無い場合は接続せずに失敗させる
	filenames, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.acquire(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to connect to migration log",
			"operation", "get_migration_status",
			"error", err,
		)
		return nil, err
	}

	records, err := s.log.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch applied migrations: %w", err)
	}

	applied := make(map[string]*domain.AppliedRecord, len(records))
	for _, record := range records {
		applied[record.Filename] = record
	}

	entries := make([]*domain.StatusEntry, len(filenames))
	for i, filename := range filenames {
		entry := &domain.StatusEntry{
			Filename: filename,
			Status:   domain.MigrationStatusPending,
		}
		if record, ok := applied[filename]; ok {
			on := record.On
			entry.Status = domain.MigrationStatusMigrated
			entry.AppliedAt = &on
		}
		entries[i] = entry
	}
	return entries, nil
}

// Up は未適用のマイグレーションをファイル順に1件ずつ適用し、適用できたファイル名を返す。
// 最初の失敗で中断し、それまでに適用・記録したものはそのまま残す。
func (s *MigrationService) Up(ctx context.Context) (migrated []string, err error) {
	ctx, span := tracer.Start(ctx, "MigrationService.Up")
	defer endSpan(span, &err)
	defer s.release(ctx, "up", &err)

	logger := slog.With("operation", "up", "run_id", uuid.NewString())

	entries, err := s.status(ctx)
	if err != nil {
		return nil, err
	}

	migrated = []string{}
	for _, entry := range entries {
		if !entry.IsPending() {
			continue
		}

		logger.InfoContext(ctx, "migrating", "filename", entry.Filename)
		if err := s.applyOne(ctx, entry.Filename); err != nil {
			logger.ErrorContext(ctx, "migration aborted",
				"filename", entry.Filename,
				"applied", len(migrated),
				"error", err,
			)
			return migrated, err
		}
		migrated = append(migrated, entry.Filename)
	}

	logger.InfoContext(ctx, "migrations applied", "count", len(migrated))
	return migrated, nil
}

// applyOne は1件のマイグレーションを適用し、適用ログに記録する。
func (s *MigrationService) applyOne(ctx context.Context, filename string) (err error) {
	ctx, span := tracer.Start(ctx, "MigrationService.apply",
		trace.WithAttributes(attribute.String("drift.filename", filename)))
	defer endSpan(span, &err)

	m, err := s.store.Load(filename)
	if err != nil {
		return &domain.MigrationError{Filename: filename, Phase: domain.PhaseLoad, Err: err}
	}

	if err := m.Apply(ctx, s.log.Target()); err != nil {
		return &domain.MigrationError{Filename: filename, Phase: domain.PhaseApply, Err: err}
	}

	record := &domain.AppliedRecord{
		Filename: filename,
		Status:   domain.MigrationStatusMigrated,
		On:       s.now(),
	}
	if err := s.log.Insert(ctx, record); err != nil {
		return &domain.MigrationError{Filename: filename, Phase: domain.PhaseRecord, Err: err}
	}
	return nil
}

// Down はファイル順で最後の適用済みマイグレーションを1件だけ取り消し、取り消したファイル名を返す。
// 対象は適用日時ではなくファイル順（作成順）で決まる。適用済みが無い場合は空を返す。
func (s *MigrationService) Down(ctx context.Context) (reverted []string, err error) {
	ctx, span := tracer.Start(ctx, "MigrationService.Down")
	defer endSpan(span, &err)
	defer s.release(ctx, "down", &err)

	logger := slog.With("operation", "down", "run_id", uuid.NewString())

	entries, err := s.status(ctx)
	if err != nil {
		return nil, err
	}

	var last *domain.StatusEntry
	for _, entry := range entries {
		if !entry.IsPending() {
			last = entry
		}
	}

	reverted = []string{}
	if last == nil {
		logger.InfoContext(ctx, "no migrations to revert")
		return reverted, nil
	}

	logger.InfoContext(ctx, "reverting", "filename", last.Filename)
	if err := s.revertOne(ctx, last.Filename); err != nil {
		logger.ErrorContext(ctx, "revert aborted", "filename", last.Filename, "error", err)
		return reverted, err
	}

	return append(reverted, last.Filename), nil
}

// revertOne は1件のマイグレーションを取り消し、適用ログから削除する。
func (s *MigrationService) revertOne(ctx context.Context, filename string) (err error) {
	ctx, span := tracer.Start(ctx, "MigrationService.revert",
		trace.WithAttributes(attribute.String("drift.filename", filename)))
	defer endSpan(span, &err)

	m, err := s.store.Load(filename)
	if err != nil {
		return &domain.MigrationError{Filename: filename, Phase: domain.PhaseLoad, Err: err}
	}

	if err := m.Revert(ctx, s.log.Target()); err != nil {
		return &domain.MigrationError{Filename: filename, Phase: domain.PhaseRevert, Err: err}
	}

	if err := s.log.DeleteByFilename(ctx, filename); err != nil {
		// 取り消しは完了しているが適用ログには残っている
		slog.ErrorContext(ctx, "migration reverted but log still marks it as migrated",
			"operation", "down",
			"filename", filename,
			"error", err,
		)
		return &domain.MigrationError{Filename: filename, Phase: domain.PhaseUnrecord, Err: err}
	}
	return nil
}

func endSpan(span trace.Span, errp *error) {
	if *errp != nil {
		span.RecordError(*errp)
		span.SetStatus(codes.Error, (*errp).Error())
	}
	span.End()
}
