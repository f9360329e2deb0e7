package repository

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"go/token"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"drift/internal/domain"
	"drift/pkg/migration"
)

//go:embed templates/*
var templates embed.FS

var goTemplate = template.Must(template.ParseFS(templates, "templates/migration.go.tmpl"))

// MigrationStore はマイグレーションディレクトリ上のマイグレーション定義を扱う。
type MigrationStore struct {
	dir      string
	registry *migration.Registry
	now      func() time.Time
}

// NewMigrationStore は新しいMigrationStoreを生成する。
func NewMigrationStore(dir string, registry *migration.Registry) *MigrationStore {
	return &MigrationStore{
		dir:      dir,
		registry: registry,
		now:      time.Now,
	}
}

// List はマイグレーションファイル名をディレクトリ順（ファイル名順）で返す。
// サブディレクトリとドットファイルは対象外。
func (s *MigrationStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrMigrationsDirNotFound, s.dir)
		}
		slog.ErrorContext(ctx, "failed to read migrations directory",
			"operation", "list_migrations",
			"dir", s.dir,
			"error", err,
		)
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	filenames := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		filenames = append(filenames, entry.Name())
	}

	s.warnMissingFiles(ctx, filenames)
	return filenames, nil
}

// warnMissingFiles は登録済みだがディレクトリにファイルが無いマイグレーションを警告する。
// これらはstatusにも表示されず、適用もされない。
func (s *MigrationStore) warnMissingFiles(ctx context.Context, filenames []string) {
	present := make(map[string]bool, len(filenames))
	for _, filename := range filenames {
		present[filename] = true
	}
	for _, registered := range s.registry.Filenames() {
		if !present[registered] {
			slog.WarnContext(ctx, "registered migration has no file in migrations directory",
				"operation", "list_migrations",
				"filename", registered,
				"dir", s.dir,
			)
		}
	}
}

// Load はファイル名からマイグレーションを解決する。
// 登録済みのGoマイグレーションを優先し、次に.jsonのコマンドマイグレーションを読み込む。
func (s *MigrationStore) Load(filename string) (migration.Migration, error) {
	if m, ok := s.registry.Lookup(filename); ok {
		return m, nil
	}

	if filepath.Ext(filename) == ".json" {
		return loadCommandMigration(filepath.Join(s.dir, filename))
	}

	return nil, fmt.Errorf("%w: %s", domain.ErrMigrationNotRegistered, filename)
}

// Create はテンプレートから新しいマイグレーションファイルを作成し、そのファイル名を返す。
// ファイル名は "<unixミリ秒>-<説明（空白はアンダースコア）>" の形式。
func (s *MigrationStore) Create(description string, kind domain.MigrationKind) (string, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return "", fmt.Errorf("migration description is required")
	}

	content, err := s.render(kind)
	if err != nil {
		return "", err
	}

	stem := fmt.Sprintf("%d-%s", s.now().UnixMilli(), strings.ReplaceAll(description, " ", "_"))
	if kind == domain.MigrationKindGo && buildConstrained(stem) {
		// _test, _linux などで終わるとgo buildの対象外になり、Registerが呼ばれない
		stem += "_migration"
	}
	filename := stem + "." + string(kind)
	path := filepath.Join(s.dir, filename)

	// 同一ミリ秒の衝突時は上書きせずエラーにする
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", domain.ErrMigrationsDirNotFound, s.dir)
		}
		return "", fmt.Errorf("failed to create migration file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(content); err != nil {
		return "", fmt.Errorf("failed to write migration file: %w", err)
	}
	return filename, nil
}

func (s *MigrationStore) render(kind domain.MigrationKind) ([]byte, error) {
	switch kind {
	case domain.MigrationKindCommand:
		return templates.ReadFile("templates/migration.json")
	case domain.MigrationKindGo:
		var buf bytes.Buffer
		if err := goTemplate.Execute(&buf, map[string]string{"Package": s.packageName()}); err != nil {
			return nil, fmt.Errorf("failed to render migration template: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown migration kind: %s", kind)
	}
}

// packageName はマイグレーションディレクトリ名をGoのパッケージ名として使う。
func (s *MigrationStore) packageName() string {
	name := filepath.Base(s.dir)
	if token.IsIdentifier(name) && !token.IsKeyword(name) {
		return name
	}
	return "migrations"
}

var (
	knownOS = map[string]bool{
		"aix": true, "android": true, "darwin": true, "dragonfly": true, "freebsd": true,
		"hurd": true, "illumos": true, "ios": true, "js": true, "linux": true, "nacl": true,
		"netbsd": true, "openbsd": true, "plan9": true, "solaris": true, "wasip1": true,
		"windows": true, "zos": true,
	}
	knownArch = map[string]bool{
		"386": true, "amd64": true, "amd64p32": true, "arm": true, "armbe": true, "arm64": true,
		"arm64be": true, "loong64": true, "mips": true, "mipsle": true, "mips64": true,
		"mips64le": true, "mips64p32": true, "mips64p32le": true, "ppc": true, "ppc64": true,
		"ppc64le": true, "riscv": true, "riscv64": true, "s390": true, "s390x": true,
		"sparc": true, "sparc64": true, "wasm": true,
	}
)

// buildConstrained はファイル名（拡張子なし）がテストファイルまたはGOOS/GOARCHの
// サフィックスを持ち、通常のgo buildから除外されるかどうかを返す。
func buildConstrained(stem string) bool {
	stem, _, _ = strings.Cut(stem, ".")
	i := strings.Index(stem, "_")
	if i < 0 {
		return false
	}
	parts := strings.Split(stem[i:], "_")
	n := len(parts)
	if parts[n-1] == "test" {
		return true
	}
	return knownOS[parts[n-1]] || knownArch[parts[n-1]]
}
