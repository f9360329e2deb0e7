package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.mongodb.org/mongo-driver/bson"

	"drift/internal/domain"
	"drift/pkg/migration"
)

// commandMigration は.jsonファイルに記述されたステップを実行するマイグレーション。
// MongoDBではステップはコマンドドキュメント（Extended JSON）、SQLではSQL文字列。
type commandMigration struct {
	up   []json.RawMessage
	down []json.RawMessage
}

type commandFile struct {
	Up   []json.RawMessage `json:"up"`
	Down []json.RawMessage `json:"down"`
}

func loadCommandMigration(path string) (*commandMigration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration file: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var file commandFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidMigrationFile, path, err)
	}

	for _, steps := range [][]json.RawMessage{file.Up, file.Down} {
		for i, step := range steps {
			if c := firstByte(step); c != '{' && c != '"' {
				return nil, fmt.Errorf("%w: %s: step %d must be an object or a string", domain.ErrInvalidMigrationFile, path, i+1)
			}
		}
	}

	return &commandMigration{up: file.Up, down: file.Down}, nil
}

// Apply はupのステップを順に実行する。
func (m *commandMigration) Apply(ctx context.Context, target migration.Target) error {
	return runSteps(ctx, target, m.up)
}

// Revert はdownのステップを順に実行する。
func (m *commandMigration) Revert(ctx context.Context, target migration.Target) error {
	return runSteps(ctx, target, m.down)
}

func runSteps(ctx context.Context, target migration.Target, steps []json.RawMessage) error {
	for i, step := range steps {
		if err := runStep(ctx, target, step); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

func runStep(ctx context.Context, target migration.Target, step json.RawMessage) error {
	switch {
	case target.Gorm != nil:
		var stmt string
		if err := json.Unmarshal(step, &stmt); err != nil {
			return fmt.Errorf("%w: SQL targets accept string steps only", domain.ErrUnsupportedStep)
		}
		return target.Gorm.WithContext(ctx).Exec(stmt).Error

	case target.Mongo != nil:
		if firstByte(step) != '{' {
			return fmt.Errorf("%w: MongoDB targets accept command documents only", domain.ErrUnsupportedStep)
		}
		var cmd bson.D
		if err := bson.UnmarshalExtJSON(step, false, &cmd); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidMigrationFile, err)
		}
		return target.Mongo.RunCommand(ctx, cmd).Err()

	default:
		return fmt.Errorf("%w: backend has no command runner", domain.ErrUnsupportedStep)
	}
}

func firstByte(raw json.RawMessage) byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}
