package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/Chinzzii/undo-replication-go/internal/persist"
	"github.com/Chinzzii/undo-replication-go/internal/record"
)

var _ persist.Backend = (*Store)(nil)

// openTestStore connects to RECORDS_TEST_POSTGRES_URL or skips.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("RECORDS_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("RECORDS_TEST_POSTGRES_URL not set")
	}
	s, err := Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestOpenRequiresDSN(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), " "); err == nil {
		t.Fatal("expected empty dsn error")
	}
}

func TestPostgresUpsertGetDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	r := record.New(map[string]string{"color": "red"})
	t.Cleanup(func() { _ = s.Delete(context.Background(), r.ID()) })

	if err := s.Upsert(ctx, r); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Upsert(ctx, r.With("color", "blue")); err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	got, ok, err := s.Get(ctx, r.ID())
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if c, _ := got.Field("color"); c != "blue" {
		t.Fatalf("color = %q, want blue", c)
	}

	if err := s.Delete(ctx, r.ID()); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, r.ID()); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, ok, err := s.Get(ctx, r.ID()); err != nil || ok {
		t.Fatalf("get after delete: ok=%v err=%v", ok, err)
	}
}
