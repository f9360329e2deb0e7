// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import "time"

// MigrationStatus はマイグレーションの適用状態を表す
type MigrationStatus string

const (
	MigrationStatusPending  MigrationStatus = "pending"
	MigrationStatusMigrated MigrationStatus = "migrated"
)

// NotApplied は未適用マイグレーションの適用日時の表示値。
const NotApplied = "n/a"

// AppliedAtLayout は適用日時の表示フォーマット。
const AppliedAtLayout = "2006-01-02 15:04:05"

// AppliedRecord は適用ログに記録される1件のマイグレーション適用履歴。
type AppliedRecord struct {
	Filename string          // マイグレーションファイル名（ID）
	Status   MigrationStatus // 常にmigrated
	On       time.Time       // 適用日時
}

// StatusEntry はマイグレーションファイルと適用ログを突き合わせた結果。永続化はしない。
type StatusEntry struct {
	Filename  string
	Status    MigrationStatus
	AppliedAt *time.Time // 未適用の場合はnil
}

// IsPending は未適用かどうかを返す。
func (e *StatusEntry) IsPending() bool {
	return e.Status == MigrationStatusPending
}

// AppliedAtString は適用日時をローカルタイムで整形して返す。未適用の場合は"n/a"。
func (e *StatusEntry) AppliedAtString() string {
	if e.AppliedAt == nil {
		return NotApplied
	}
	return e.AppliedAt.Local().Format(AppliedAtLayout)
}

// MigrationKind は作成するマイグレーションファイルの種類。
type MigrationKind string

const (
	// MigrationKindCommand はJSONにコマンドを記述するマイグレーション。
	MigrationKindCommand MigrationKind = "json"
	// MigrationKindGo はmigration.Registerで登録するGoのマイグレーション。
	MigrationKindGo MigrationKind = "go"
)
