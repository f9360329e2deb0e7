package repository

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"
	"go.mongodb.org/mongo-driver/bson"

	"drift/internal/domain"
	"drift/pkg/migration"
)

// BoltLogRepository はbboltファイル上の適用ログ。キーはファイル名、値はBSONドキュメント。
type BoltLogRepository struct {
	open   func() (*bbolt.DB, error)
	bucket []byte
	db     *bbolt.DB
}

// NewBoltLogRepository は新しいBoltLogRepositoryを生成する。
func NewBoltLogRepository(open func() (*bbolt.DB, error), bucket string) *BoltLogRepository {
	return &BoltLogRepository{open: open, bucket: []byte(bucket)}
}

// Open はファイルを開き、バケットを用意する。
func (r *BoltLogRepository) Open(ctx context.Context) error {
	db, err := r.open()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(r.bucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create bucket %s: %w", r.bucket, err)
	}

	r.db = db
	return nil
}

// Close はファイルを閉じる。
func (r *BoltLogRepository) Close(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	db := r.db
	r.db = nil
	return db.Close()
}

// FindAll は適用ログを全件取得する。
func (r *BoltLogRepository) FindAll(ctx context.Context) ([]*domain.AppliedRecord, error) {
	if r.db == nil {
		return nil, domain.ErrNotConnected
	}

	var records []*domain.AppliedRecord
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(r.bucket).ForEach(func(k, v []byte) error {
			var doc appliedDocument
			if err := bson.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("failed to decode record %s: %w", k, err)
			}
			records = append(records, doc.toDomain())
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Insert は適用履歴を1件記録する。同じファイル名が既にあればエラー。
func (r *BoltLogRepository) Insert(ctx context.Context, record *domain.AppliedRecord) error {
	if r.db == nil {
		return domain.ErrNotConnected
	}

	value, err := bson.Marshal(newAppliedDocument(record))
	if err != nil {
		return err
	}

	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(r.bucket)
		key := []byte(record.Filename)
		if b.Get(key) != nil {
			return fmt.Errorf("record for %s already exists", record.Filename)
		}
		return b.Put(key, value)
	})
}

// DeleteByFilename は指定されたファイル名の適用履歴を削除する。
func (r *BoltLogRepository) DeleteByFilename(ctx context.Context, filename string) error {
	if r.db == nil {
		return domain.ErrNotConnected
	}

	return r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(r.bucket).Delete([]byte(filename))
	})
}

// Target はマイグレーションに渡すハンドルを返す。
func (r *BoltLogRepository) Target() migration.Target {
	return migration.Target{Bolt: r.db}
}
