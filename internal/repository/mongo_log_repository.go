package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"drift/internal/domain"
	"drift/pkg/migration"
)

// appliedDocument は適用ログのドキュメント形式。boltの値としても使う。
type appliedDocument struct {
	Filename string    `bson:"filename"`
	Status   string    `bson:"status"`
	On       time.Time `bson:"on"`
}

func (d *appliedDocument) toDomain() *domain.AppliedRecord {
	return &domain.AppliedRecord{
		Filename: d.Filename,
		Status:   domain.MigrationStatus(d.Status),
		On:       d.On,
	}
}

func newAppliedDocument(record *domain.AppliedRecord) *appliedDocument {
	return &appliedDocument{
		Filename: record.Filename,
		Status:   string(record.Status),
		On:       record.On,
	}
}

// MongoLogRepository はMongoDBのコレクション上の適用ログ。
type MongoLogRepository struct {
	connect    func(ctx context.Context) (*mongo.Client, error)
	dbName     string
	collection string

	client *mongo.Client
	db     *mongo.Database
	coll   *mongo.Collection
}

// NewMongoLogRepository は新しいMongoLogRepositoryを生成する。
func NewMongoLogRepository(connect func(ctx context.Context) (*mongo.Client, error), dbName, collection string) *MongoLogRepository {
	return &MongoLogRepository{
		connect:    connect,
		dbName:     dbName,
		collection: collection,
	}
}

// Open はMongoDBに接続し、filenameの一意インデックスを作成する。
func (r *MongoLogRepository) Open(ctx context.Context) error {
	client, err := r.connect(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	db := client.Database(r.dbName)
	coll := db.Collection(r.collection)

	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "filename", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		slog.ErrorContext(ctx, "failed to create migration log index",
			"operation", "open",
			"collection", r.collection,
			"error", err,
		)
		return fmt.Errorf("failed to create index on %s: %w", r.collection, err)
	}

	r.client = client
	r.db = db
	r.coll = coll
	return nil
}

// Close は接続を閉じる。
func (r *MongoLogRepository) Close(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	client := r.client
	r.client, r.db, r.coll = nil, nil, nil
	return client.Disconnect(ctx)
}

// FindAll は適用ログを全件取得する。
func (r *MongoLogRepository) FindAll(ctx context.Context) ([]*domain.AppliedRecord, error) {
	if r.coll == nil {
		return nil, domain.ErrNotConnected
	}

	cursor, err := r.coll.Find(ctx, bson.D{})
	if err != nil {
		slog.ErrorContext(ctx, "failed to find applied migrations",
			"operation", "find_all",
			"error", err,
		)
		return nil, err
	}

	var docs []appliedDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	records := make([]*domain.AppliedRecord, len(docs))
	for i := range docs {
		records[i] = docs[i].toDomain()
	}
	return records, nil
}

// Insert は適用履歴を1件記録する。
func (r *MongoLogRepository) Insert(ctx context.Context, record *domain.AppliedRecord) error {
	if r.coll == nil {
		return domain.ErrNotConnected
	}

	if _, err := r.coll.InsertOne(ctx, newAppliedDocument(record)); err != nil {
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
func (r *MongoLogRepository) DeleteByFilename(ctx context.Context, filename string) error {
	if r.coll == nil {
		return domain.ErrNotConnected
	}

	if _, err := r.coll.DeleteOne(ctx, bson.D{{Key: "filename", Value: filename}}); err != nil {
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
func (r *MongoLogRepository) Target() migration.Target {
	return migration.Target{Mongo: r.db, Client: r.client}
}
