package queries

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jpequegn/iceberg-lakehouse/lakeerr"
)

func newTestStore(t *testing.T, opts ...StoreOption) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queries.json")
	s, err := OpenStore(path, opts...)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	return s, path
}

func TestSaveGetListDelete(t *testing.T) {
	s, path := newTestStore(t)

	if err := s.Save("daily", "SELECT count(*) FROM events", "daily row count"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save("all", "SELECT * FROM events", ""); err != nil {
		t.Fatalf("Save: %v", err)
	}

	q, err := s.Get("daily")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if q.SQL != "SELECT count(*) FROM events" || q.Description != "daily row count" {
		t.Errorf("Get returned %+v", q)
	}

	list := s.List()
	if len(list) != 2 || list[0].Name != "all" || list[1].Name != "daily" {
		t.Errorf("List = %+v, want [all daily]", list)
	}

	// Re-save keeps CreatedAt, moves UpdatedAt.
	created := q.CreatedAt
	time.Sleep(5 * time.Millisecond)
	if err := s.Save("daily", "SELECT count(*) FROM events WHERE id > 0", ""); err != nil {
		t.Fatalf("re-Save: %v", err)
	}
	q, _ = s.Get("daily")
	if !q.CreatedAt.Equal(created) {
		t.Errorf("re-save changed CreatedAt: %v -> %v", created, q.CreatedAt)
	}
	if !q.UpdatedAt.After(created) {
		t.Errorf("re-save did not move UpdatedAt: %v", q.UpdatedAt)
	}

	if err := s.Delete("all"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("all"); !lakeerr.IsNotFound(err) {
		t.Errorf("Get after delete: %v, want not-found", err)
	}
	if err := s.Delete("all"); !lakeerr.IsNotFound(err) {
		t.Errorf("double Delete: %v, want not-found", err)
	}

	// Reopen from disk.
	s2, err := OpenStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := s2.Get("daily"); err != nil {
		t.Errorf("Get after reopen: %v", err)
	}
	if len(s2.List()) != 1 {
		t.Errorf("List after reopen = %+v", s2.List())
	}
}

func TestSaveValidation(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Save("", "SELECT 1", ""); !lakeerr.IsValidation(err) {
		t.Errorf("empty name: %v, want validation error", err)
	}
	if err := s.Save("q", "", ""); !lakeerr.IsValidation(err) {
		t.Errorf("empty sql: %v, want validation error", err)
	}
}

func TestHistoryBoundedNewestFirst(t *testing.T) {
	s, path := newTestStore(t, WithHistoryLimit(3))

	for i := 0; i < 5; i++ {
		err := s.AddHistory(HistoryEntry{
			SQL:  "SELECT 1",
			Rows: i,
		})
		if err != nil {
			t.Fatalf("AddHistory: %v", err)
		}
	}

	hist := s.History(0)
	if len(hist) != 3 {
		t.Fatalf("history length = %d, want 3", len(hist))
	}
	// Newest first: rows 4, 3, 2 survive.
	for i, want := range []int{4, 3, 2} {
		if hist[i].Rows != want {
			t.Errorf("hist[%d].Rows = %d, want %d", i, hist[i].Rows, want)
		}
	}

	if got := s.History(1); len(got) != 1 || got[0].Rows != 4 {
		t.Errorf("History(1) = %+v", got)
	}

	// Bound survives reopen.
	s2, err := OpenStore(path, WithHistoryLimit(3))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if len(s2.History(0)) != 3 {
		t.Errorf("history after reopen = %d entries", len(s2.History(0)))
	}

	if err := s2.ClearHistory(); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	if len(s2.History(0)) != 0 {
		t.Error("history not cleared")
	}
}

func TestOpenStoreMissingFile(t *testing.T) {
	s, _ := newTestStore(t)
	if got := s.List(); len(got) != 0 {
		t.Errorf("fresh store List = %+v", got)
	}
	if got := s.History(0); len(got) != 0 {
		t.Errorf("fresh store History = %+v", got)
	}
}
