package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chepyr/go-todo-service/shared/models"
	"github.com/chepyr/go-todo-service/todos-service/paging"
)

const maxBodyBytes = 1 << 20

/*
GET /todos?limit=&nextKey=
returns {"items": [...], "nextKey": "..."|null}
*/
func (h *Handler) listTodos(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		h.sendError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	limit := h.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > paging.MaxLimit {
			h.sendError(w, fmt.Sprintf("limit should be an integer between 1 and %d", paging.MaxLimit), http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	page, err := h.Todos.FindPage(ctx, userID, limit, r.URL.Query().Get("nextKey"))
	if err != nil {
		h.writeServiceError(w, err, "list todos")
		return
	}
	h.sendJSON(w, http.StatusOK, page)
}

/*
POST /todos
body {"name": "...", "dueDate": "..."}
*/
func (h *Handler) createTodo(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		h.sendError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !isJSONContentType(r) {
		h.sendError(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req models.CreateTodoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.sendError(w, validationMessage(err), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	todo, err := h.Todos.Create(ctx, userID, req)
	if err != nil {
		h.writeServiceError(w, err, "create todo")
		return
	}
	h.sendJSON(w, http.StatusCreated, map[string]*models.Todo{"item": todo})
}

// DELETE /todos/{todoId}
func (h *Handler) deleteTodo(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		h.sendError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	todoID := r.PathValue("todoId")
	if todoID == "" {
		h.sendError(w, "Todo ID is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := h.Todos.Delete(ctx, todoID, userID); err != nil {
		h.writeServiceError(w, err, "delete todo")
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]any{"result": map[string]string{"todoId": todoID}})
}

/*
POST /todos/{todoId}/attachment
points the todo at a fresh attachment id and returns a presigned upload URL for it
*/
func (h *Handler) generateUploadURL(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		h.sendError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	todoID := r.PathValue("todoId")
	if todoID == "" {
		h.sendError(w, "Todo ID is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	attachmentID := uuid.NewString()
	uploadURL, err := h.Todos.GenerateUploadURL(ctx, attachmentID)
	if err != nil {
		h.writeServiceError(w, err, "generate upload url")
		return
	}
	if err := h.Todos.UpdateAttachmentURL(ctx, userID, todoID, attachmentID); err != nil {
		h.writeServiceError(w, err, "update attachment url")
		return
	}

	h.Log.Info("upload url issued", zap.String("todo_id", todoID), zap.String("attachment_id", attachmentID))
	h.sendJSON(w, http.StatusAccepted, map[string]string{"uploadUrl": uploadURL})
}
