package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/chepyr/go-todo-service/shared/models"
	"github.com/chepyr/go-todo-service/todos-service/paging"
)

// ErrTodoNotFound is returned by UpdateAttachmentURL when no row matches the key.
var ErrTodoNotFound = errors.New("todo not found")

// defines methods for todo table operations
type TodoRepository interface {
	Create(ctx context.Context, todo *models.Todo) error
	Delete(ctx context.Context, todoID, userID string) error
	// GetByID returns (nil, nil) when the row does not exist.
	GetByID(ctx context.Context, todoID, userID string) (*models.Todo, error)
	UpdateAttachmentURL(ctx context.Context, todoID, userID, attachmentURL string) error
	// FindAll returns at most limit todos of userID starting after startKey,
	// plus the key of the last evaluated row when the store stopped at limit.
	FindAll(ctx context.Context, userID string, limit int, startKey *paging.Key) ([]*models.Todo, *paging.Key, error)
}

// StorageError wraps any failure of the underlying store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// checkLimit keeps limit inside what every backend can express.
func checkLimit(limit int) error {
	if limit <= 0 || limit > math.MaxInt32 {
		return fmt.Errorf("limit %d out of range", limit)
	}
	return nil
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

func Connect(driverName, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return db, nil
}
