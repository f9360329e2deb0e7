// Package migration はマイグレーション定義と、バイナリに組み込まれるマイグレーションの登録機構を提供する。
package migration

import (
	"context"

	"go.etcd.io/bbolt"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// Target はマイグレーションに渡されるデータベースハンドル。
// 使用中のバックエンドに対応するフィールドのみ設定される。
type Target struct {
	Mongo  *mongo.Database
	Client *mongo.Client
	Gorm   *gorm.DB
	Bolt   *bbolt.DB
}

// Migration は適用（Apply）と取り消し（Revert）の二つの操作を持つマイグレーション。
type Migration interface {
	Apply(ctx context.Context, target Target) error
	Revert(ctx context.Context, target Target) error
}

// Func はマイグレーションの片方向の処理。
type Func func(ctx context.Context, target Target) error

// funcMigration はFuncの組をMigrationとして扱う。
type funcMigration struct {
	up   Func
	down Func
}

// Apply はup処理を実行する。nilの場合は何もしない。
func (m *funcMigration) Apply(ctx context.Context, target Target) error {
	if m.up == nil {
		return nil
	}
	return m.up(ctx, target)
}

// Revert はdown処理を実行する。nilの場合は何もしない。
func (m *funcMigration) Revert(ctx context.Context, target Target) error {
	if m.down == nil {
		return nil
	}
	return m.down(ctx, target)
}

// New はFuncの組からMigrationを生成する。
func New(up, down Func) Migration {
	return &funcMigration{up: up, down: down}
}
