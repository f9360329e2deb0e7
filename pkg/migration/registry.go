package migration

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
)

// Registry はファイル名をキーとしてマイグレーションを保持する。
type Registry struct {
	mu    sync.RWMutex
	items map[string]Migration
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Migration)}
}

// Default はRegisterで登録されるグローバルなレジストリ。
var Default = NewRegistry()

// Register は呼び出し元のファイル名をIDとしてマイグレーションをDefaultに登録する。
// マイグレーションファイルのinit関数から呼び出すことを想定している。
// 同じIDが二重に登録された場合はpanicする。
func Register(up, down Func) {
	_, file, _, ok := runtime.Caller(1)
	if !ok {
		panic("migration: unable to determine caller file name")
	}
	if err := Default.Add(filepath.Base(file), up, down); err != nil {
		panic(err)
	}
}

// Add は指定したファイル名でマイグレーションを登録する。
func (r *Registry) Add(filename string, up, down Func) error {
	if filename == "" {
		return fmt.Errorf("migration: empty filename")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[filename]; exists {
		return fmt.Errorf("migration: %s is already registered", filename)
	}
	r.items[filename] = New(up, down)
	return nil
}

// Lookup はファイル名に対応するマイグレーションを返す。
func (r *Registry) Lookup(filename string) (Migration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.items[filename]
	return m, ok
}

// Filenames は登録済みのファイル名を昇順で返す。
func (r *Registry) Filenames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
