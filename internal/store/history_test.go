package store

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/darpa-sail-on/docsearch/pkg/postgres"
)

// Set DS_TEST_POSTGRES_DSN to run against a scratch database.
func testHistory(t *testing.T) *History {
	t.Helper()
	dsn := os.Getenv("DS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DS_TEST_POSTGRES_DSN not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	pg := postgres.NewFromDB(db)
	h := NewHistory(pg)
	if err := h.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if _, err := db.Exec(`DELETE FROM index_builds WHERE project LIKE 'test-%'`); err != nil {
		t.Fatal(err)
	}
	return h
}

func TestHistoryRecordAndList(t *testing.T) {
	h := testHistory(t)
	ctx := context.Background()

	first := tinyIndex("One", "one")
	second := tinyIndex("Two", "two")
	sum1, _ := first.Checksum()
	sum2, _ := second.Checksum()
	at := time.Now().Add(-time.Minute)

	if err := h.Record(ctx, "test-docs", sum1, first, at); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := h.Record(ctx, "test-docs", sum1, first, at); err != nil {
		t.Fatalf("Record duplicate: %v", err)
	}
	if err := h.Record(ctx, "test-docs", sum2, second, at.Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	builds, err := h.List(ctx, "test-docs", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(builds) != 2 || builds[0].Checksum != sum2 || builds[1].Checksum != sum1 {
		t.Fatalf("builds = %+v", builds)
	}
	if builds[0].Stats.Documents != 1 || builds[0].Stats.Terms != 1 {
		t.Errorf("stats = %+v", builds[0].Stats)
	}

	idx, err := h.Load(ctx, "test-docs", sum2)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, _ := idx.Checksum(); got != sum2 {
		t.Errorf("stored payload checksum = %s, want %s", got, sum2)
	}
}
