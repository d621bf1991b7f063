package history

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-node/migrations"
)

// setupRepository opens a migrated database in a temp dir.
func setupRepository(t *testing.T) *Repository {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "history.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewRepository(db.DB)
}

func TestRecordValue(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	if err := repo.RecordValue(ctx, Entry{Family: FamilyOutput, ModuleID: "lamp", ModuleType: "DigitalOutput", Value: 1}); err != nil {
		t.Fatalf("RecordValue() error = %v", err)
	}

	entries, err := repo.History(ctx, "lamp", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	got := entries[0]
	if got.Family != FamilyOutput || got.ModuleType != "DigitalOutput" || got.Value != 1 {
		t.Errorf("entry = %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero")
	}
}

func TestRecordValue_Validation(t *testing.T) {
	repo := setupRepository(t)

	tests := []struct {
		name  string
		entry Entry
	}{
		{"missing module id", Entry{Family: FamilyInput}},
		{"unknown family", Entry{Family: "comm", ModuleID: "bus"}},
	}
	for _, tt := range tests {
		if err := repo.RecordValue(context.Background(), tt.entry); err == nil {
			t.Errorf("%s: RecordValue() error = nil, want error", tt.name)
		}
	}
}

func TestHistory_OrderAndLimit(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		err := repo.RecordValue(ctx, Entry{
			Family:    FamilyInput,
			ModuleID:  "door",
			Value:     i % 2,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("RecordValue() error = %v", err)
		}
	}
	if err := repo.RecordValue(ctx, Entry{Family: FamilyInput, ModuleID: "other", Value: 1}); err != nil {
		t.Fatalf("RecordValue() error = %v", err)
	}

	entries, err := repo.History(ctx, "door", 3)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].CreatedAt.After(entries[i-1].CreatedAt) {
			t.Errorf("entries not newest first: %v before %v", entries[i-1].CreatedAt, entries[i].CreatedAt)
		}
	}

	all, err := repo.History(ctx, "door", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(all) != 5 {
		t.Errorf("default limit returned %d entries, want 5", len(all))
	}

	if _, err := repo.History(ctx, "", 10); err == nil {
		t.Error("History(\"\") error = nil, want error")
	}
}

func TestPruneHistory(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	old := Entry{Family: FamilyOutput, ModuleID: "fan", Value: 1, CreatedAt: time.Now().Add(-48 * time.Hour)}
	fresh := Entry{Family: FamilyOutput, ModuleID: "fan", Value: 0}
	for _, e := range []Entry{old, old, fresh} {
		if err := repo.RecordValue(ctx, e); err != nil {
			t.Fatalf("RecordValue() error = %v", err)
		}
	}

	n, err := repo.PruneHistory(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneHistory() error = %v", err)
	}
	if n != 2 {
		t.Errorf("PruneHistory() = %d, want 2", n)
	}

	entries, err := repo.History(ctx, "fan", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Value != 0 {
		t.Errorf("remaining entries = %+v, want the fresh one", entries)
	}

	if _, err := repo.PruneHistory(ctx, 0); err == nil {
		t.Error("PruneHistory(0) error = nil, want error")
	}
}

func TestSnapshots(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	if _, err := repo.LatestSnapshot(ctx, "workshop"); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("LatestSnapshot() error = %v, want %v", err, ErrNoSnapshot)
	}

	first := []byte(`{"id":"workshop","outputs":[]}`)
	second := []byte(`{"id":"workshop","outputs":[{"id":"lamp"}]}`)
	if err := repo.SaveSnapshot(ctx, "workshop", first, ReasonManual); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}
	if err := repo.SaveSnapshot(ctx, "workshop", second, ReasonShutdown); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}
	if err := repo.SaveSnapshot(ctx, "garage", first, ""); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}

	s, err := repo.LatestSnapshot(ctx, "workshop")
	if err != nil {
		t.Fatalf("LatestSnapshot() error = %v", err)
	}
	if s.Reason != ReasonShutdown {
		t.Errorf("Reason = %q, want %q", s.Reason, ReasonShutdown)
	}
	var doc struct {
		Outputs []json.RawMessage `json:"outputs"`
	}
	if err := json.Unmarshal(s.Document, &doc); err != nil {
		t.Fatalf("stored document is not JSON: %v", err)
	}
	if len(doc.Outputs) != 1 {
		t.Errorf("len(outputs) = %d, want 1", len(doc.Outputs))
	}

	g, err := repo.LatestSnapshot(ctx, "garage")
	if err != nil {
		t.Fatalf("LatestSnapshot(garage) error = %v", err)
	}
	if g.Reason != ReasonManual {
		t.Errorf("default Reason = %q, want %q", g.Reason, ReasonManual)
	}

	if err := repo.SaveSnapshot(ctx, "workshop", []byte("{not json"), ReasonManual); err == nil {
		t.Error("SaveSnapshot(invalid) error = nil, want error")
	}
}
