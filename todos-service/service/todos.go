package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chepyr/go-todo-service/shared/models"
	"github.com/chepyr/go-todo-service/todos-service/db"
	"github.com/chepyr/go-todo-service/todos-service/paging"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("todo not found")
	ErrForbidden       = errors.New("user is not authorized to update todo")
)

// AttachmentStorage issues URLs for attachment objects.
type AttachmentStorage interface {
	UploadURL(ctx context.Context, attachmentID string) (string, error)
	DownloadURL(ctx context.Context, attachmentID string) (string, error)
}

// TodoPage is one page of a listing. NextKey is nil on the last page.
type TodoPage struct {
	Items   []*models.Todo `json:"items"`
	NextKey *string        `json:"nextKey"`
}

type TodoService struct {
	repo    db.TodoRepository
	storage AttachmentStorage
	log     *zap.Logger

	now   func() time.Time
	newID func() string
}

func NewTodoService(repo db.TodoRepository, storage AttachmentStorage, log *zap.Logger) *TodoService {
	return &TodoService{
		repo:    repo,
		storage: storage,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

func (s *TodoService) Create(ctx context.Context, userID string, req models.CreateTodoRequest) (*models.Todo, error) {
	todo := &models.Todo{
		TodoID:        s.newID(),
		UserID:        userID,
		Name:          req.Name,
		DueDate:       req.DueDate,
		Done:          false,
		AttachmentURL: "",
		CreatedAt:     s.now(),
	}
	s.log.Info("creating todo", zap.String("user_id", userID), zap.String("todo_id", todo.TodoID))

	if err := s.repo.Create(ctx, todo); err != nil {
		return nil, err
	}
	return todo, nil
}

// Delete removes the row addressed by (todoID, userID). A key that matches
// nothing, including another user's todo, is a silent no-op.
func (s *TodoService) Delete(ctx context.Context, todoID, userID string) error {
	s.log.Info("deleting todo", zap.String("user_id", userID), zap.String("todo_id", todoID))
	return s.repo.Delete(ctx, todoID, userID)
}

func (s *TodoService) GenerateUploadURL(ctx context.Context, attachmentID string) (string, error) {
	s.log.Info("generating upload url", zap.String("attachment_id", attachmentID))
	return s.storage.UploadURL(ctx, attachmentID)
}

// UpdateAttachmentURL stores the download URL of attachmentID on the todo.
func (s *TodoService) UpdateAttachmentURL(ctx context.Context, userID, todoID, attachmentID string) error {
	attachmentURL, err := s.storage.DownloadURL(ctx, attachmentID)
	if err != nil {
		return err
	}

	todo, err := s.repo.GetByID(ctx, todoID, userID)
	if err != nil {
		return err
	}
	log := s.log.With(zap.String("user_id", userID), zap.String("todo_id", todoID))
	if todo == nil {
		log.Warn("update attachment url: todo not found")
		return ErrNotFound
	}
	// The lookup is already keyed by owner; the explicit check keeps
	// authorization independent of how the key is built.
	if todo.UserID != userID {
		log.Warn("update attachment url: owner mismatch", zap.String("owner_id", todo.UserID))
		return ErrForbidden
	}

	if err := s.repo.UpdateAttachmentURL(ctx, todoID, userID, attachmentURL); err != nil {
		if errors.Is(err, db.ErrTodoNotFound) {
			return ErrNotFound
		}
		return err
	}
	log.Info("attachment url updated", zap.String("attachment_id", attachmentID))
	return nil
}

// FindAll returns one page of userID's todos. cursor is the NextKey of a
// previous page, or empty for the first page.
func (s *TodoService) FindAll(ctx context.Context, userID string, limit int, cursor string) (*TodoPage, error) {
	if limit <= 0 || limit > paging.MaxLimit {
		return nil, fmt.Errorf("%w: limit should be between 1 and %d", ErrInvalidArgument, paging.MaxLimit)
	}
	startKey, err := paging.DecodeKey(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if startKey != nil && startKey.UserID != userID {
		return nil, fmt.Errorf("%w: cursor belongs to another listing", ErrInvalidArgument)
	}

	items, lastKey, err := s.repo.FindAll(ctx, userID, limit, startKey)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = make([]*models.Todo, 0)
	}
	return &TodoPage{Items: items, NextKey: paging.EncodeKey(lastKey)}, nil
}

// FindPage is FindAll plus a one-row probe at the next cursor, so a non-nil
// NextKey always means at least one more todo exists.
func (s *TodoService) FindPage(ctx context.Context, userID string, limit int, cursor string) (*TodoPage, error) {
	page, err := s.FindAll(ctx, userID, limit, cursor)
	if err != nil {
		return nil, err
	}
	if page.NextKey == nil {
		return page, nil
	}

	probe, err := s.FindAll(ctx, userID, 1, *page.NextKey)
	if err != nil {
		return nil, err
	}
	if len(probe.Items) == 0 {
		s.log.Debug("last page reached", zap.String("user_id", userID))
		page.NextKey = nil
	}
	return page, nil
}
