package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigNotFound はdrift.jsonが存在しない場合のエラー。
	ErrConfigNotFound = errors.New("drift config not found")

	// ErrConfigAlreadyExists はinit時に既にdrift.jsonが存在する場合のエラー。
	ErrConfigAlreadyExists = errors.New("drift is already configured")

	// ErrEnvironmentNotFound は指定された環境が設定に存在しない場合のエラー。
	ErrEnvironmentNotFound = errors.New("environment not found")

	// ErrEnvironmentExists は追加しようとした環境が既に存在する場合のエラー。
	ErrEnvironmentExists = errors.New("environment already exists")

	// ErrUnknownDriver は未対応のドライバが指定された場合のエラー。
	ErrUnknownDriver = errors.New("unknown driver")

	// ErrConnectionFailed はバックエンドへの接続に失敗した場合のエラー。
	ErrConnectionFailed = errors.New("connection failed")

	// ErrNotConnected は接続前に適用ログを操作した場合のエラー。
	ErrNotConnected = errors.New("not connected")

	// ErrMigrationsDirNotFound はマイグレーションディレクトリが存在しない場合のエラー。
	ErrMigrationsDirNotFound = errors.New("migrations directory not found")

	// ErrMigrationNotRegistered はファイル名に対応するマイグレーションを解決できない場合のエラー。
	ErrMigrationNotRegistered = errors.New("migration not registered")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")

	// ErrUnsupportedStep は接続先で実行できないステップが含まれる場合のエラー。
	ErrUnsupportedStep = errors.New("unsupported migration step")

	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrBookkeepingFailed はマイグレーション実行後の適用ログ更新に失敗した場合のエラー。
	// 実際のデータベースの状態と適用ログが食い違っている可能性がある。
	ErrBookkeepingFailed = errors.New("migration log update failed")
)

// Phase はマイグレーション処理のどの段階で失敗したかを表す。
type Phase string

const (
	PhaseLoad     Phase = "load"
	PhaseApply    Phase = "apply"
	PhaseRevert   Phase = "revert"
	PhaseRecord   Phase = "record"
	PhaseUnrecord Phase = "unrecord"
)

// MigrationError は特定のマイグレーションの失敗を表す。
type MigrationError struct {
	Filename string
	Phase    Phase
	Err      error
}

// Error はエラーメッセージを返す。
func (e *MigrationError) Error() string {
	switch e.Phase {
	case PhaseRecord, PhaseUnrecord:
		return fmt.Sprintf("could not update migration log for %s (%s): %v", e.Filename, e.Phase, e.Err)
	default:
		return fmt.Sprintf("migration %s failed during %s: %v", e.Filename, e.Phase, e.Err)
	}
}

// Unwrap は元のエラーを返す。
func (e *MigrationError) Unwrap() error {
	return e.Err
}

// Is は失敗した段階に応じてErrMigrationFailedまたはErrBookkeepingFailedと一致する。
func (e *MigrationError) Is(target error) bool {
	switch target {
	case ErrMigrationFailed:
		return e.Phase == PhaseLoad || e.Phase == PhaseApply || e.Phase == PhaseRevert
	case ErrBookkeepingFailed:
		return e.Phase == PhaseRecord || e.Phase == PhaseUnrecord
	}
	return false
}
