package taskstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return store
}

func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }

func TestCreateAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, "alice", "buy milk")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if created.ID == 0 {
		t.Error("expected non-zero id")
	}
	if created.Completed {
		t.Error("new task should be incomplete")
	}

	got, err := s.Get(ctx, "alice", created.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Description != "buy milk" || got.UserID != "alice" {
		t.Errorf("got %+v", got)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.Get(context.Background(), "alice", 42)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGet_CrossUserInvisible(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	task, _ := s.Create(ctx, "alice", "secret errand")

	// Another user sees the same answer as a missing id
	_, err := s.Get(ctx, "bob", task.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-user Get err = %v, want ErrNotFound", err)
	}
}

func TestList_OrderAndScope(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	s.Create(ctx, "alice", "first")
	s.Create(ctx, "alice", "second")
	s.Create(ctx, "bob", "not yours")

	tasks, err := s.List(ctx, "alice", ListFilter{})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].Description != "first" || tasks[1].Description != "second" {
		t.Errorf("order wrong: %q then %q", tasks[0].Description, tasks[1].Description)
	}
}

func TestList_CompletedFilter(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	open, _ := s.Create(ctx, "alice", "open task")
	done, _ := s.Create(ctx, "alice", "done task")
	if _, err := s.Toggle(ctx, "alice", done.ID); err != nil {
		t.Fatalf("Toggle error: %v", err)
	}

	completed, err := s.List(ctx, "alice", ListFilter{Completed: boolPtr(true)})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(completed) != 1 || completed[0].ID != done.ID {
		t.Errorf("completed filter returned %+v", completed)
	}

	pending, err := s.List(ctx, "alice", ListFilter{Completed: boolPtr(false)})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != open.ID {
		t.Errorf("pending filter returned %+v", pending)
	}
}

func TestUpdate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	task, _ := s.Create(ctx, "alice", "by milk")

	got, err := s.Update(ctx, "alice", task.ID, Patch{Description: strPtr("buy milk")})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if got.Description != "buy milk" {
		t.Errorf("description = %q", got.Description)
	}
	if got.Completed {
		t.Error("update of description should not flip completed")
	}

	got, err = s.Update(ctx, "alice", task.ID, Patch{Completed: boolPtr(true)})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if !got.Completed {
		t.Error("completed not applied")
	}
}

func TestUpdate_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.Update(context.Background(), "alice", 99, Patch{Description: strPtr("x")})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdate_EmptyPatch(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	task, _ := s.Create(ctx, "alice", "something")
	if _, err := s.Update(ctx, "alice", task.ID, Patch{}); err == nil {
		t.Error("expected error for empty patch")
	}
}

func TestToggle_RoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	task, _ := s.Create(ctx, "alice", "laundry")

	got, err := s.Toggle(ctx, "alice", task.ID)
	if err != nil {
		t.Fatalf("Toggle error: %v", err)
	}
	if !got.Completed {
		t.Error("first toggle should complete the task")
	}

	got, err = s.Toggle(ctx, "alice", task.ID)
	if err != nil {
		t.Fatalf("Toggle error: %v", err)
	}
	if got.Completed {
		t.Error("second toggle should reopen the task")
	}
}

func TestToggle_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.Toggle(context.Background(), "alice", 7)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	task, _ := s.Create(ctx, "alice", "short-lived")
	if err := s.Delete(ctx, "alice", task.ID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := s.Get(ctx, "alice", task.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted task still readable: %v", err)
	}

	if err := s.Delete(ctx, "alice", task.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestDelete_CrossUser(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	task, _ := s.Create(ctx, "alice", "keep me")
	if err := s.Delete(ctx, "bob", task.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-user delete err = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(ctx, "alice", task.ID); err != nil {
		t.Errorf("task should survive cross-user delete: %v", err)
	}
}

func TestSearch(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	s.Create(ctx, "alice", "Buy milk")
	s.Create(ctx, "alice", "buy bread")
	s.Create(ctx, "alice", "walk the dog")
	s.Create(ctx, "bob", "buy cheese")

	got, err := s.Search(ctx, "alice", "buy")
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 matches (case-insensitive, scoped), got %d", len(got))
	}
	if got[0].Description != "Buy milk" {
		t.Errorf("expected id order, got %q first", got[0].Description)
	}
}

func TestSearch_LikeMetacharacters(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	s.Create(ctx, "alice", "review 100% done report")
	s.Create(ctx, "alice", "review anything")

	got, err := s.Search(ctx, "alice", "100%")
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("%% should match literally, got %d results", len(got))
	}
}

func TestSearch_NoMatches(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	s.Create(ctx, "alice", "buy milk")

	got, err := s.Search(ctx, "alice", "xyzzy")
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no matches, got %d", len(got))
	}
}
