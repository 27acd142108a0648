package property

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-gateway/migrations" // registers the schema
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "props.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteStore(db.DB)
}

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"sqlite": func(t *testing.T) Store { return openStore(t) },
		"memory": func(*testing.T) Store { return NewMemoryStore() },
	}

	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			ctx := context.Background()

			if _, ok, err := s.Get(ctx, "subsystem.matter.version"); err != nil || ok {
				t.Fatalf("Get(missing) = ok %v, err %v; want absent", ok, err)
			}

			if err := s.Set(ctx, "subsystem.matter.version", "1"); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			if err := s.Set(ctx, "subsystem.matter.version", "2"); err != nil {
				t.Fatalf("Set(overwrite) error = %v", err)
			}

			v, ok, err := s.Get(ctx, "subsystem.matter.version")
			if err != nil || !ok || v != "2" {
				t.Errorf("Get() = (%q, %v, %v), want (\"2\", true, nil)", v, ok, err)
			}

			if err := s.Set(ctx, "", "x"); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Set(\"\") error = %v, want ErrInvalidKey", err)
			}
			if _, _, err := s.Get(ctx, ""); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Get(\"\") error = %v, want ErrInvalidKey", err)
			}
		})
	}
}

func TestMemoryStoreWrites(t *testing.T) {
	m := NewMemoryStore()
	_ = m.Set(context.Background(), "a", "1") //nolint:errcheck // key is valid
	_ = m.Set(context.Background(), "", "1")  //nolint:errcheck // rejected, not counted
	if m.Writes() != 1 {
		t.Errorf("Writes() = %d, want 1", m.Writes())
	}
}
