package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/chepyr/go-todo-service/shared/models"
	"github.com/chepyr/go-todo-service/todos-service/paging"
)

func setupTodosDB(t *testing.T) (*sql.DB, *SQLTodoRepository) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	repo := NewSQLTodoRepository(db, "todos", "sqlite", zap.NewNop())
	if err := repo.Migrate(context.Background()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db, repo
}

func newTodo(userID, name string) *models.Todo {
	return &models.Todo{
		TodoID:    uuid.NewString(),
		UserID:    userID,
		Name:      name,
		DueDate:   "2024-01-01",
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestSQLTodoRepository_Create_Get_Update_Delete(t *testing.T) {
	dbx, repo := setupTodosDB(t)
	defer func() {
		if err := dbx.Close(); err != nil {
			log.Printf("close db: %v", err)
		}
	}()
	ctx := context.Background()

	todo := newTodo("auth0|alice", "First todo")
	if err := repo.Create(ctx, todo); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByID(ctx, todo.TodoID, todo.UserID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil {
		t.Fatal("GetByID returned nil for existing todo")
	}
	if got.Name != "First todo" || got.Done || got.AttachmentURL != "" || !got.CreatedAt.Equal(todo.CreatedAt) {
		t.Errorf("GetByID mismatch: %#v", got)
	}

	if err := repo.UpdateAttachmentURL(ctx, todo.TodoID, todo.UserID, "https://bucket/a1"); err != nil {
		t.Fatalf("UpdateAttachmentURL: %v", err)
	}
	after, err := repo.GetByID(ctx, todo.TodoID, todo.UserID)
	if err != nil {
		t.Fatalf("GetByID after update: %v", err)
	}
	if after.AttachmentURL != "https://bucket/a1" {
		t.Errorf("attachment url not applied: %#v", after)
	}

	if err := repo.Delete(ctx, todo.TodoID, todo.UserID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	gone, err := repo.GetByID(ctx, todo.TodoID, todo.UserID)
	if err != nil {
		t.Fatalf("GetByID after delete: %v", err)
	}
	if gone != nil {
		t.Errorf("expected nil after delete, got %#v", gone)
	}
}

func TestSQLTodoRepository_GetByID_OtherOwner(t *testing.T) {
	dbx, repo := setupTodosDB(t)
	defer dbx.Close()
	ctx := context.Background()

	todo := newTodo("alice", "mine")
	if err := repo.Create(ctx, todo); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByID(ctx, todo.TodoID, "bob")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got != nil {
		t.Fatalf("todo must not be visible to another owner, got %#v", got)
	}
}

func TestSQLTodoRepository_Delete_NonExistentIsNoop(t *testing.T) {
	dbx, repo := setupTodosDB(t)
	defer dbx.Close()

	if err := repo.Delete(context.Background(), uuid.NewString(), "alice"); err != nil {
		t.Fatalf("Delete of missing key should succeed, got %v", err)
	}
}

func TestSQLTodoRepository_Delete_OtherOwnerKeepsRow(t *testing.T) {
	dbx, repo := setupTodosDB(t)
	defer dbx.Close()
	ctx := context.Background()

	todo := newTodo("alice", "keep me")
	if err := repo.Create(ctx, todo); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Delete(ctx, todo.TodoID, "bob"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err := repo.GetByID(ctx, todo.TodoID, "alice")
	if err != nil || got == nil {
		t.Fatalf("row should survive a delete under another owner: %v %#v", err, got)
	}
}

func TestSQLTodoRepository_UpdateAttachmentURL_NonExistent(t *testing.T) {
	dbx, repo := setupTodosDB(t)
	defer dbx.Close()

	err := repo.UpdateAttachmentURL(context.Background(), uuid.NewString(), "alice", "https://x")
	if !errors.Is(err, ErrTodoNotFound) {
		t.Fatalf("want ErrTodoNotFound, got %v", err)
	}
}

func TestSQLTodoRepository_Create_Duplicate(t *testing.T) {
	dbx, repo := setupTodosDB(t)
	defer dbx.Close()
	ctx := context.Background()

	todo := newTodo("alice", "dup")
	if err := repo.Create(ctx, todo); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := repo.Create(ctx, todo)
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("want *StorageError for duplicate key, got %v", err)
	}
	if storageErr.Op != "put" {
		t.Errorf("Op = %q, want put", storageErr.Op)
	}
}

func TestSQLTodoRepository_FindAll_Pages(t *testing.T) {
	dbx, repo := setupTodosDB(t)
	defer dbx.Close()
	ctx := context.Background()

	const total = 7
	want := make(map[string]bool)
	for i := range total {
		todo := newTodo("alice", fmt.Sprintf("todo %d", i))
		if err := repo.Create(ctx, todo); err != nil {
			t.Fatalf("Create: %v", err)
		}
		want[todo.TodoID] = true
	}
	// noise from another user
	if err := repo.Create(ctx, newTodo("bob", "not alice's")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	seen := make(map[string]bool)
	var key *paging.Key
	pages := 0
	for {
		items, next, err := repo.FindAll(ctx, "alice", 3, key)
		if err != nil {
			t.Fatalf("FindAll: %v", err)
		}
		pages++
		for _, item := range items {
			if item.UserID != "alice" {
				t.Fatalf("foreign todo in page: %#v", item)
			}
			if seen[item.TodoID] {
				t.Fatalf("duplicate todo %s", item.TodoID)
			}
			seen[item.TodoID] = true
		}
		if next == nil {
			break
		}
		key = next
	}

	if len(seen) != total {
		t.Fatalf("saw %d todos, want %d", len(seen), total)
	}
	if pages != 3 {
		t.Errorf("pages = %d, want 3", pages)
	}
}

func TestSQLTodoRepository_FindAll_FullLastPageReportsKey(t *testing.T) {
	dbx, repo := setupTodosDB(t)
	defer dbx.Close()
	ctx := context.Background()

	for i := range 2 {
		if err := repo.Create(ctx, newTodo("alice", fmt.Sprintf("t%d", i))); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	items, next, err := repo.FindAll(ctx, "alice", 2, nil)
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(items) != 2 || next == nil {
		t.Fatalf("full page should report a last key: items=%d next=%v", len(items), next)
	}

	rest, after, err := repo.FindAll(ctx, "alice", 1, next)
	if err != nil {
		t.Fatalf("FindAll probe: %v", err)
	}
	if len(rest) != 0 || after != nil {
		t.Fatalf("probe after last row should be empty, got %d items next=%v", len(rest), after)
	}
}

func TestSQLTodoRepository_FindAll_Empty(t *testing.T) {
	dbx, repo := setupTodosDB(t)
	defer dbx.Close()

	items, next, err := repo.FindAll(context.Background(), "nobody", 9, nil)
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(items) != 0 || next != nil {
		t.Errorf("expected empty result, got %d items next=%v", len(items), next)
	}
}

// checks that an oversized limit is rejected before any allocation or query
func TestSQLTodoRepository_FindAll_LimitOutOfRange(t *testing.T) {
	dbx, repo := setupTodosDB(t)
	defer dbx.Close()

	var storageErr *StorageError
	_, _, err := repo.FindAll(context.Background(), "u", math.MaxInt, nil)
	if math.MaxInt > math.MaxInt32 && !errors.As(err, &storageErr) {
		t.Fatalf("want StorageError for limit=MaxInt, got %v", err)
	}
	if _, _, err := repo.FindAll(context.Background(), "u", 0, nil); !errors.As(err, &storageErr) {
		t.Fatalf("want StorageError for limit=0, got %v", err)
	}
}
