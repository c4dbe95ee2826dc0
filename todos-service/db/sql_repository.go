package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/chepyr/go-todo-service/internal/metrics"
	"github.com/chepyr/go-todo-service/shared/models"
	"github.com/chepyr/go-todo-service/todos-service/paging"
)

const todoColumns = "todo_id, user_id, name, due_date, done, attachment_url, created_at"

// Schema works for both postgres and sqlite. The primary key leads with
// user_id so listing a user's todos is a range scan, as in the DynamoDB table.
const Schema = `
CREATE TABLE IF NOT EXISTS %s (
  user_id TEXT NOT NULL,
  todo_id TEXT NOT NULL,
  name TEXT NOT NULL,
  due_date TEXT NOT NULL,
  done BOOLEAN NOT NULL DEFAULT FALSE,
  attachment_url TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMP NOT NULL,
  PRIMARY KEY (user_id, todo_id)
);`

// SQLTodoRepository stores todos in a relational table. Pagination is keyset
// on (user_id, todo_id) so cursors stay compatible with the DynamoDB backend.
type SQLTodoRepository struct {
	db      *sql.DB
	table   string
	backend string
	builder sq.StatementBuilderType
	log     *zap.Logger
}

func NewSQLTodoRepository(db *sql.DB, table, backend string, log *zap.Logger) *SQLTodoRepository {
	return &SQLTodoRepository{
		db:      db,
		table:   table,
		backend: backend,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		log:     log,
	}
}

// Migrate creates the todo table if it does not exist yet.
func (r *SQLTodoRepository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(Schema, r.table))
	return storageErr("migrate", err)
}

func (r *SQLTodoRepository) Create(ctx context.Context, todo *models.Todo) error {
	defer metrics.RecordStoreOperation("put", r.backend, time.Now())

	query, args, err := r.builder.Insert(r.table).
		Columns("todo_id", "user_id", "name", "due_date", "done", "attachment_url", "created_at").
		Values(todo.TodoID, todo.UserID, todo.Name, todo.DueDate, todo.Done, todo.AttachmentURL, todo.CreatedAt).
		ToSql()
	if err != nil {
		return storageErr("put", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.log.Error("insert todo failed", zap.String("todo_id", todo.TodoID), zap.Error(err))
		return storageErr("put", err)
	}
	return nil
}

func (r *SQLTodoRepository) Delete(ctx context.Context, todoID, userID string) error {
	defer metrics.RecordStoreOperation("delete", r.backend, time.Now())

	query, args, err := r.builder.Delete(r.table).
		Where(sq.Eq{"todo_id": todoID, "user_id": userID}).
		ToSql()
	if err != nil {
		return storageErr("delete", err)
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return storageErr("delete", err)
}

func (r *SQLTodoRepository) GetByID(ctx context.Context, todoID, userID string) (*models.Todo, error) {
	defer metrics.RecordStoreOperation("get", r.backend, time.Now())

	query, args, err := r.builder.Select(todoColumns).
		From(r.table).
		Where(sq.Eq{"todo_id": todoID, "user_id": userID}).
		ToSql()
	if err != nil {
		return nil, storageErr("get", err)
	}

	todo, err := scanTodo(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get", err)
	}
	return todo, nil
}

func (r *SQLTodoRepository) UpdateAttachmentURL(ctx context.Context, todoID, userID, attachmentURL string) error {
	defer metrics.RecordStoreOperation("update", r.backend, time.Now())

	query, args, err := r.builder.Update(r.table).
		Set("attachment_url", attachmentURL).
		Where(sq.Eq{"todo_id": todoID, "user_id": userID}).
		ToSql()
	if err != nil {
		return storageErr("update", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storageErr("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("update", err)
	}
	if n == 0 {
		return ErrTodoNotFound
	}
	return nil
}

func (r *SQLTodoRepository) FindAll(ctx context.Context, userID string, limit int, startKey *paging.Key) ([]*models.Todo, *paging.Key, error) {
	defer metrics.RecordStoreOperation("query", r.backend, time.Now())

	if err := checkLimit(limit); err != nil {
		return nil, nil, storageErr("query", err)
	}
	stmt := r.builder.Select(todoColumns).
		From(r.table).
		Where(sq.Eq{"user_id": userID}).
		OrderBy("todo_id").
		Limit(uint64(limit))
	if startKey != nil {
		stmt = stmt.Where(sq.Gt{"todo_id": startKey.TodoID})
	}

	query, args, err := stmt.ToSql()
	if err != nil {
		return nil, nil, storageErr("query", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, storageErr("query", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.log.Warn("close rows", zap.Error(err))
		}
	}()

	todos := make([]*models.Todo, 0)
	for rows.Next() {
		todo, err := scanTodo(rows)
		if err != nil {
			return nil, nil, storageErr("query", err)
		}
		todos = append(todos, todo)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, storageErr("query", err)
	}

	// Like DynamoDB, a page that filled up reports its last key even when no
	// rows follow it.
	var lastKey *paging.Key
	if len(todos) == limit {
		last := todos[len(todos)-1]
		lastKey = &paging.Key{UserID: last.UserID, TodoID: last.TodoID}
	}
	return todos, lastKey, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTodo(row rowScanner) (*models.Todo, error) {
	todo := &models.Todo{}
	err := row.Scan(
		&todo.TodoID, &todo.UserID, &todo.Name, &todo.DueDate,
		&todo.Done, &todo.AttachmentURL, &todo.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	todo.CreatedAt = todo.CreatedAt.UTC()
	return todo, nil
}
