package usecase

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"drift/internal/domain"
	"drift/pkg/migration"
)

// mockAppliedLog はテスト用のインメモリ適用ログ。
type mockAppliedLog struct {
	records   map[string]*domain.AppliedRecord
	open      bool
	openCount int
	closes    int

	openErr   error
	findErr   error
	insertErr map[string]error
	deleteErr error
}

func newMockAppliedLog() *mockAppliedLog {
	return &mockAppliedLog{
		records:   make(map[string]*domain.AppliedRecord),
		insertErr: make(map[string]error),
	}
}

func (m *mockAppliedLog) Open(ctx context.Context) error {
	if m.openErr != nil {
		return m.openErr
	}
	m.open = true
	m.openCount++
	return nil
}

func (m *mockAppliedLog) Close(ctx context.Context) error {
	m.open = false
	m.closes++
	return nil
}

func (m *mockAppliedLog) FindAll(ctx context.Context) ([]*domain.AppliedRecord, error) {
	if !m.open {
		return nil, domain.ErrNotConnected
	}
	if m.findErr != nil {
		return nil, m.findErr
	}
	var result []*domain.AppliedRecord
	for _, record := range m.records {
		result = append(result, record)
	}
	return result, nil
}

func (m *mockAppliedLog) Insert(ctx context.Context, record *domain.AppliedRecord) error {
	if !m.open {
		return domain.ErrNotConnected
	}
	if err := m.insertErr[record.Filename]; err != nil {
		return err
	}
	if _, exists := m.records[record.Filename]; exists {
		return errors.New("duplicate record")
	}
	m.records[record.Filename] = record
	return nil
}

func (m *mockAppliedLog) DeleteByFilename(ctx context.Context, filename string) error {
	if !m.open {
		return domain.ErrNotConnected
	}
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.records, filename)
	return nil
}

func (m *mockAppliedLog) Target() migration.Target {
	return migration.Target{}
}

// mockMigrationStore はテスト用のマイグレーションストア。
type mockMigrationStore struct {
	filenames []string
	registry  *migration.Registry
	listErr   error
	created   []string
}

func (m *mockMigrationStore) List(ctx context.Context) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]string(nil), m.filenames...), nil
}

func (m *mockMigrationStore) Load(filename string) (migration.Migration, error) {
	if mig, ok := m.registry.Lookup(filename); ok {
		return mig, nil
	}
	return nil, domain.ErrMigrationNotRegistered
}

func (m *mockMigrationStore) Create(description string, kind domain.MigrationKind) (string, error) {
	filename := "1700000000000-" + description + "." + string(kind)
	m.created = append(m.created, filename)
	return filename, nil
}

// recorder はマイグレーションの実行順を記録する。
type recorder struct {
	calls []string
}

func (r *recorder) migration(name string, upErr, downErr error) (migration.Func, migration.Func) {
	up := func(ctx context.Context, target migration.Target) error {
		r.calls = append(r.calls, "up:"+name)
		return upErr
	}
	down := func(ctx context.Context, target migration.Target) error {
		r.calls = append(r.calls, "down:"+name)
		return downErr
	}
	return up, down
}

// setupService はファイル名順に並んだマイグレーションを持つサービスを作成する。
func setupService(t *testing.T, rec *recorder, filenames []string, failing map[string]error) (*MigrationService, *mockAppliedLog, *mockMigrationStore) {
	t.Helper()

	registry := migration.NewRegistry()
	for _, filename := range filenames {
		up, down := rec.migration(filename, failing["up:"+filename], failing["down:"+filename])
		if err := registry.Add(filename, up, down); err != nil {
			t.Fatalf("failed to register %s: %v", filename, err)
		}
	}

	store := &mockMigrationStore{filenames: filenames, registry: registry}
	log := newMockAppliedLog()
	service := NewMigrationService(store, log)
	return service, log, store
}

func statusesOf(entries []*domain.StatusEntry) map[string]domain.MigrationStatus {
	result := make(map[string]domain.MigrationStatus, len(entries))
	for _, e := range entries {
		result[e.Filename] = e.Status
	}
	return result
}

var testFiles = []string{
	"1700000000001-create_users.json",
	"1700000000002-create_posts.json",
	"1700000000003-create_comments.json",
}

func TestMigrationService_GetMigrationStatus_EmptyLog(t *testing.T) {
	ctx := context.Background()
	service, log, _ := setupService(t, &recorder{}, testFiles, nil)

	entries, err := service.GetMigrationStatus(ctx, false)
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}

	if len(entries) != len(testFiles) {
		t.Fatalf("expected %d entries, got %d", len(testFiles), len(entries))
	}
	for i, entry := range entries {
		if entry.Filename != testFiles[i] {
			t.Errorf("entry %d: expected %s, got %s", i, testFiles[i], entry.Filename)
		}
		if entry.Status != domain.MigrationStatusPending {
			t.Errorf("entry %d: expected pending, got %s", i, entry.Status)
		}
		if entry.AppliedAtString() != domain.NotApplied {
			t.Errorf("entry %d: expected %q, got %q", i, domain.NotApplied, entry.AppliedAtString())
		}
	}

	if log.open {
		t.Error("expected connection to be closed when persist is false")
	}
}

func TestMigrationService_GetMigrationStatus_KeepsStoreOrder(t *testing.T) {
	ctx := context.Background()
	// ソートされていない順序でもストアの順序を保つ
	files := []string{"b.json", "a.json", "c.json"}
	service, log, _ := setupService(t, &recorder{}, files, nil)

	on := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	log.records["a.json"] = &domain.AppliedRecord{Filename: "a.json", Status: domain.MigrationStatusMigrated, On: on}
	log.records["orphan.json"] = &domain.AppliedRecord{Filename: "orphan.json", Status: domain.MigrationStatusMigrated, On: on}

	entries, err := service.GetMigrationStatus(ctx, false)
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}

	var got []string
	for _, entry := range entries {
		got = append(got, entry.Filename)
	}
	if !reflect.DeepEqual(got, files) {
		t.Errorf("expected %v, got %v", files, got)
	}

	if entries[1].Status != domain.MigrationStatusMigrated {
		t.Errorf("expected a.json to be migrated, got %s", entries[1].Status)
	}
	if entries[1].AppliedAt == nil || !entries[1].AppliedAt.Equal(on) {
		t.Errorf("expected applied at %v, got %v", on, entries[1].AppliedAt)
	}
}

func TestMigrationService_GetMigrationStatus_Persist(t *testing.T) {
	ctx := context.Background()
	service, log, _ := setupService(t, &recorder{}, testFiles, nil)

	if _, err := service.GetMigrationStatus(ctx, true); err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	if !log.open {
		t.Fatal("expected connection to stay open when persist is true")
	}

	// 接続済みのセッションは再利用される
	if _, err := service.GetMigrationStatus(ctx, false); err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	if log.openCount != 1 {
		t.Errorf("expected a single connection, got %d", log.openCount)
	}
	if log.open {
		t.Error("expected connection to be closed")
	}

	if err := service.Close(ctx); err != nil {
		t.Errorf("Close on a closed session should be a no-op, got %v", err)
	}
}

func TestMigrationService_GetMigrationStatus_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing directory does not connect", func(t *testing.T) {
		service, log, store := setupService(t, &recorder{}, testFiles, nil)
		store.listErr = domain.ErrMigrationsDirNotFound

		if _, err := service.GetMigrationStatus(ctx, true); !errors.Is(err, domain.ErrMigrationsDirNotFound) {
			t.Errorf("expected ErrMigrationsDirNotFound, got %v", err)
		}
		if log.openCount != 0 {
			t.Errorf("expected no connection, got %d", log.openCount)
		}
	})

	t.Run("connection failure", func(t *testing.T) {
		service, log, _ := setupService(t, &recorder{}, testFiles, nil)
		log.openErr = domain.ErrConnectionFailed

		if _, err := service.GetMigrationStatus(ctx, false); !errors.Is(err, domain.ErrConnectionFailed) {
			t.Errorf("expected ErrConnectionFailed, got %v", err)
		}
	})

	t.Run("read failure closes even when persisting", func(t *testing.T) {
		service, log, _ := setupService(t, &recorder{}, testFiles, nil)
		log.findErr = errors.New("cursor error")

		entries, err := service.GetMigrationStatus(ctx, true)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if entries != nil {
			t.Errorf("expected no partial result, got %v", entries)
		}
		if log.open {
			t.Error("expected connection to be closed on failure")
		}
	})
}

func TestMigrationService_Up(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	service, log, _ := setupService(t, rec, testFiles, nil)

	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return now }

	migrated, err := service.Up(ctx)
	if err != nil {
		t.Fatalf("Up failed: %v", err)
	}

	if !reflect.DeepEqual(migrated, testFiles) {
		t.Errorf("expected %v, got %v", testFiles, migrated)
	}
	expectedCalls := []string{"up:" + testFiles[0], "up:" + testFiles[1], "up:" + testFiles[2]}
	if !reflect.DeepEqual(rec.calls, expectedCalls) {
		t.Errorf("expected calls %v, got %v", expectedCalls, rec.calls)
	}

	for _, filename := range migrated {
		record, ok := log.records[filename]
		if !ok {
			t.Errorf("expected record for %s", filename)
			continue
		}
		if record.Status != domain.MigrationStatusMigrated || !record.On.Equal(now) {
			t.Errorf("unexpected record for %s: %+v", filename, record)
		}
	}
	if log.open {
		t.Error("expected connection to be closed after Up")
	}

	entries, err := service.GetMigrationStatus(ctx, false)
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	for _, entry := range entries {
		if entry.Status != domain.MigrationStatusMigrated {
			t.Errorf("expected %s to be migrated, got %s", entry.Filename, entry.Status)
		}
	}
}

func TestMigrationService_Up_NothingPending(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	service, _, _ := setupService(t, rec, testFiles, nil)

	if _, err := service.Up(ctx); err != nil {
		t.Fatalf("Up failed: %v", err)
	}
	rec.calls = nil

	migrated, err := service.Up(ctx)
	if err != nil {
		t.Fatalf("Up failed: %v", err)
	}
	if len(migrated) != 0 {
		t.Errorf("expected nothing to migrate, got %v", migrated)
	}
	if len(rec.calls) != 0 {
		t.Errorf("expected no migration calls, got %v", rec.calls)
	}
}

func TestMigrationService_Up_FailFast(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	applyErr := errors.New("duplicate key")
	service, log, _ := setupService(t, rec, testFiles, map[string]error{"up:" + testFiles[1]: applyErr})

	migrated, err := service.Up(ctx)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if !reflect.DeepEqual(migrated, testFiles[:1]) {
		t.Errorf("expected %v, got %v", testFiles[:1], migrated)
	}
	if !errors.Is(err, domain.ErrMigrationFailed) || errors.Is(err, domain.ErrBookkeepingFailed) {
		t.Errorf("expected an execution error, got %v", err)
	}
	if !errors.Is(err, applyErr) {
		t.Errorf("expected cause to be wrapped, got %v", err)
	}
	var migErr *domain.MigrationError
	if !errors.As(err, &migErr) || migErr.Filename != testFiles[1] || migErr.Phase != domain.PhaseApply {
		t.Errorf("expected MigrationError for %s during apply, got %v", testFiles[1], err)
	}

	// 3件目は実行されない
	expectedCalls := []string{"up:" + testFiles[0], "up:" + testFiles[1]}
	if !reflect.DeepEqual(rec.calls, expectedCalls) {
		t.Errorf("expected calls %v, got %v", expectedCalls, rec.calls)
	}
	if log.open {
		t.Error("expected connection to be closed after failure")
	}

	entries, err := service.GetMigrationStatus(ctx, false)
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	expected := map[string]domain.MigrationStatus{
		testFiles[0]: domain.MigrationStatusMigrated,
		testFiles[1]: domain.MigrationStatusPending,
		testFiles[2]: domain.MigrationStatusPending,
	}
	if got := statusesOf(entries); !reflect.DeepEqual(got, expected) {
		t.Errorf("expected %v, got %v", expected, got)
	}
}

func TestMigrationService_Up_RecordFailure(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	service, log, _ := setupService(t, rec, testFiles, nil)
	log.insertErr[testFiles[0]] = errors.New("write concern error")

	migrated, err := service.Up(ctx)
	if !errors.Is(err, domain.ErrBookkeepingFailed) || errors.Is(err, domain.ErrMigrationFailed) {
		t.Fatalf("expected a bookkeeping error, got %v", err)
	}
	if len(migrated) != 0 {
		t.Errorf("expected nothing reported as migrated, got %v", migrated)
	}
	if !reflect.DeepEqual(rec.calls, []string{"up:" + testFiles[0]}) {
		t.Errorf("expected only the first migration to run, got %v", rec.calls)
	}
}

func TestMigrationService_Up_UnresolvableMigration(t *testing.T) {
	ctx := context.Background()
	service, _, store := setupService(t, &recorder{}, testFiles, nil)
	store.filenames = append([]string{"1600000000000-unknown.go"}, store.filenames...)

	migrated, err := service.Up(ctx)
	if !errors.Is(err, domain.ErrMigrationNotRegistered) || !errors.Is(err, domain.ErrMigrationFailed) {
		t.Fatalf("expected unresolved migration error, got %v", err)
	}
	if len(migrated) != 0 {
		t.Errorf("expected nothing migrated, got %v", migrated)
	}
}

func TestMigrationService_Down_TargetsLastByCreationOrder(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	files := []string{"1700000000001-a.json", "1700000000002-b.json"}
	service, log, _ := setupService(t, rec, files, nil)

	// Aはファイル順では先だが、Bより後に適用された
	log.records[files[1]] = &domain.AppliedRecord{Filename: files[1], Status: domain.MigrationStatusMigrated, On: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	log.records[files[0]] = &domain.AppliedRecord{Filename: files[0], Status: domain.MigrationStatusMigrated, On: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)}

	reverted, err := service.Down(ctx)
	if err != nil {
		t.Fatalf("Down failed: %v", err)
	}

	if !reflect.DeepEqual(reverted, []string{files[1]}) {
		t.Errorf("expected %v, got %v", files[1:], reverted)
	}
	if !reflect.DeepEqual(rec.calls, []string{"down:" + files[1]}) {
		t.Errorf("expected only B to be reverted, got %v", rec.calls)
	}
	if _, ok := log.records[files[1]]; ok {
		t.Error("expected B's record to be deleted")
	}
	if _, ok := log.records[files[0]]; !ok {
		t.Error("expected A's record to be kept")
	}
	if log.open {
		t.Error("expected connection to be closed after Down")
	}
}

func TestMigrationService_Down_NothingApplied(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	service, log, _ := setupService(t, rec, testFiles, nil)

	reverted, err := service.Down(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if reverted == nil || len(reverted) != 0 {
		t.Errorf("expected an empty result, got %#v", reverted)
	}
	if len(rec.calls) != 0 {
		t.Errorf("expected no migration calls, got %v", rec.calls)
	}
	if log.open {
		t.Error("expected connection to be closed")
	}
}

func TestMigrationService_Down_RevertFailure(t *testing.T) {
	ctx := context.Background()
	revertErr := errors.New("collection in use")
	service, log, _ := setupService(t, &recorder{}, testFiles, map[string]error{"down:" + testFiles[0]: revertErr})

	if _, err := service.Up(ctx); err != nil {
		t.Fatalf("Up failed: %v", err)
	}
	// 最後の2件を手動で取り消した状態にする
	delete(log.records, testFiles[1])
	delete(log.records, testFiles[2])

	reverted, err := service.Down(ctx)
	if !errors.Is(err, domain.ErrMigrationFailed) || !errors.Is(err, revertErr) {
		t.Fatalf("expected revert error, got %v", err)
	}
	if len(reverted) != 0 {
		t.Errorf("expected nothing reverted, got %v", reverted)
	}
	// 適用ログには触れない
	if _, ok := log.records[testFiles[0]]; !ok {
		t.Error("expected record to be kept after failed revert")
	}
}

func TestMigrationService_Down_UnrecordFailure(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	service, log, _ := setupService(t, rec, testFiles[:1], nil)

	if _, err := service.Up(ctx); err != nil {
		t.Fatalf("Up failed: %v", err)
	}
	log.deleteErr = errors.New("network error")

	reverted, err := service.Down(ctx)
	if !errors.Is(err, domain.ErrBookkeepingFailed) || errors.Is(err, domain.ErrMigrationFailed) {
		t.Fatalf("expected bookkeeping error, got %v", err)
	}
	var migErr *domain.MigrationError
	if !errors.As(err, &migErr) || migErr.Phase != domain.PhaseUnrecord {
		t.Errorf("expected unrecord phase, got %v", err)
	}
	if len(reverted) != 0 {
		t.Errorf("expected nothing reported as reverted, got %v", reverted)
	}
	if !reflect.DeepEqual(rec.calls, []string{"up:" + testFiles[0], "down:" + testFiles[0]}) {
		t.Errorf("unexpected calls: %v", rec.calls)
	}
}

func TestMigrationService_RoundTrip(t *testing.T) {
	ctx := context.Background()
	service, log, _ := setupService(t, &recorder{}, testFiles[:1], nil)

	before, err := service.GetMigrationStatus(ctx, false)
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}

	if _, err := service.Up(ctx); err != nil {
		t.Fatalf("Up failed: %v", err)
	}
	reverted, err := service.Down(ctx)
	if err != nil {
		t.Fatalf("Down failed: %v", err)
	}
	if !reflect.DeepEqual(reverted, testFiles[:1]) {
		t.Errorf("expected %v, got %v", testFiles[:1], reverted)
	}
	if len(log.records) != 0 {
		t.Errorf("expected empty log, got %v", log.records)
	}

	after, err := service.GetMigrationStatus(ctx, false)
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	if !reflect.DeepEqual(statusesOf(before), statusesOf(after)) {
		t.Errorf("expected status to return to %v, got %v", statusesOf(before), statusesOf(after))
	}
	if log.openCount != log.closes {
		t.Errorf("expected every connection to be closed (opened %d, closed %d)", log.openCount, log.closes)
	}
}

func TestMigrationService_CreateMigration(t *testing.T) {
	service, _, store := setupService(t, &recorder{}, nil, nil)

	filename, err := service.CreateMigration("add_index", domain.MigrationKindCommand)
	if err != nil {
		t.Fatalf("CreateMigration failed: %v", err)
	}
	if filename != "1700000000000-add_index.json" {
		t.Errorf("unexpected filename: %s", filename)
	}
	if len(store.created) != 1 {
		t.Errorf("expected 1 created migration, got %d", len(store.created))
	}
}
