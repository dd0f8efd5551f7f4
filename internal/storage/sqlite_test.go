package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestCreateAndGetThread(t *testing.T) {
	s := openTestStore(t)

	created, err := s.CreateThread("t1")
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if created.Title != "" {
		t.Errorf("new thread title = %q, want empty", created.Title)
	}

	got, err := s.GetThread("t1")
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if got.ID != "t1" || got.Title != "" {
		t.Errorf("GetThread = %+v", got)
	}
}

func TestGetThreadNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetThread("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetThread(missing) error = %v, want ErrNotFound", err)
	}
}

func TestListThreadsNewestFirst(t *testing.T) {
	s := openTestStore(t)

	for i := range 3 {
		if _, err := s.CreateThread(fmt.Sprintf("t%d", i)); err != nil {
			t.Fatalf("CreateThread: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	threads, err := s.ListThreads()
	if err != nil {
		t.Fatalf("ListThreads: %v", err)
	}
	if len(threads) != 3 {
		t.Fatalf("got %d threads, want 3", len(threads))
	}
	if threads[0].ID != "t2" || threads[2].ID != "t0" {
		t.Errorf("threads not newest-first: %v, %v, %v", threads[0].ID, threads[1].ID, threads[2].ID)
	}
}

func TestUpdateThreadTitle(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.CreateThread("t1"); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if err := s.UpdateThreadTitle("t1", "Quarterly numbers"); err != nil {
		t.Fatalf("UpdateThreadTitle: %v", err)
	}

	got, err := s.GetThread("t1")
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if got.Title != "Quarterly numbers" {
		t.Errorf("title = %q", got.Title)
	}

	if err := s.UpdateThreadTitle("missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateThreadTitle(missing) = %v, want ErrNotFound", err)
	}
}

func TestSaveAndListMessages(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.CreateThread("t1"); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	msgs := []Message{
		{ID: "m1", ThreadID: "t1", Role: RoleUser, Content: "Show me Sheet1"},
		{ID: "m2", ThreadID: "t1", Role: RoleAssistant, Content: "Here it is."},
		{ID: "m3", ThreadID: "t1", Role: RoleTool, Content: `{"success":true}`},
	}
	for _, m := range msgs {
		if err := s.SaveMessage(m); err != nil {
			t.Fatalf("SaveMessage(%s): %v", m.ID, err)
		}
	}

	got, err := s.ListMessages("t1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	for i, m := range got {
		if m.ID != msgs[i].ID {
			t.Errorf("message %d = %q, want %q (oldest first)", i, m.ID, msgs[i].ID)
		}
	}
	if got[2].Role != RoleTool {
		t.Errorf("role = %q, want tool", got[2].Role)
	}
}

func TestDeleteThreadCascadesToMessages(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.CreateThread("t1"); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	for i := range 4 {
		m := Message{ID: fmt.Sprintf("m%d", i), ThreadID: "t1", Role: RoleUser, Content: "hi"}
		if err := s.SaveMessage(m); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}

	if err := s.DeleteThread("t1"); err != nil {
		t.Fatalf("DeleteThread: %v", err)
	}

	if _, err := s.GetThread("t1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("thread still present after delete: %v", err)
	}

	// No orphaned message rows.
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM messages WHERE thread_id = 't1'").Scan(&count); err != nil {
		t.Fatalf("counting messages: %v", err)
	}
	if count != 0 {
		t.Errorf("%d orphaned messages after cascade delete", count)
	}
}

func TestDeleteThreadNotFound(t *testing.T) {
	s := openTestStore(t)

	if err := s.DeleteThread("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteThread(missing) = %v, want ErrNotFound", err)
	}
}

func TestMessageOrderStableWithinSameInstant(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.CreateThread("t1"); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	// Force identical timestamps; rowid keeps insertion order.
	at := time.Now().UTC()
	for i := range 5 {
		m := Message{ID: fmt.Sprintf("m%d", i), ThreadID: "t1", Role: RoleUser, Content: "x", CreatedAt: at}
		if err := s.SaveMessage(m); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}

	got, err := s.ListMessages("t1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	for i, m := range got {
		if want := fmt.Sprintf("m%d", i); m.ID != want {
			t.Errorf("message %d = %q, want %q", i, m.ID, want)
		}
	}
}
