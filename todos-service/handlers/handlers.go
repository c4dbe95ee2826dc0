package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chepyr/go-todo-service/internal/metrics"
	"github.com/chepyr/go-todo-service/shared/models"
	"github.com/chepyr/go-todo-service/todos-service/db"
	"github.com/chepyr/go-todo-service/todos-service/service"
)

const requestTimeout = 5 * time.Second

type TokenVerifier interface {
	Verify(ctx context.Context, authHeader string) (string, error)
}

type TodoService interface {
	Create(ctx context.Context, userID string, req models.CreateTodoRequest) (*models.Todo, error)
	Delete(ctx context.Context, todoID, userID string) error
	GenerateUploadURL(ctx context.Context, attachmentID string) (string, error)
	UpdateAttachmentURL(ctx context.Context, userID, todoID, attachmentID string) error
	FindPage(ctx context.Context, userID string, limit int, cursor string) (*service.TodoPage, error)
}

type Handler struct {
	Todos          TodoService
	Verifier       TokenVerifier
	Log            *zap.Logger
	DefaultLimit   int
	AllowedOrigins []string

	validate *validator.Validate
}

func NewHandler(todos TodoService, verifier TokenVerifier, log *zap.Logger, defaultLimit int, allowedOrigins []string) *Handler {
	return &Handler{
		Todos:          todos,
		Verifier:       verifier,
		Log:            log,
		DefaultLimit:   defaultLimit,
		AllowedOrigins: allowedOrigins,
		validate:       newValidator(),
	}
}

// Routes registers every endpoint on mux and returns it wrapped in CORS
// handling.
func (h *Handler) Routes(mux *http.ServeMux) http.Handler {
	route := func(pattern string, next http.HandlerFunc) {
		mux.HandleFunc(pattern, metrics.Instrument(pattern, next))
	}

	route("GET /todos", h.AuthMiddleware(h.listTodos))
	route("POST /todos", h.AuthMiddleware(h.createTodo))
	route("DELETE /todos/{todoId}", h.AuthMiddleware(h.deleteTodo))
	route("POST /todos/{todoId}/attachment", h.AuthMiddleware(h.generateUploadURL))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		h.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	return h.cors(mux)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) sendError(w http.ResponseWriter, message string, status int) {
	h.sendJSON(w, status, errorResponse{Error: message})
}

func (h *Handler) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.Log.Error("failed to write response", zap.Int("status", status), zap.Error(err))
	}
}

// writeServiceError maps service and storage errors to status codes. Storage
// causes are logged and never echoed to the client.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, action string) {
	var storageErr *db.StorageError
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		h.sendError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrNotFound):
		h.sendError(w, "Todo not found", http.StatusNotFound)
	case errors.Is(err, service.ErrForbidden):
		h.sendError(w, "Forbidden", http.StatusForbidden)
	case errors.As(err, &storageErr):
		h.Log.Error(action+": storage failure", zap.String("op", storageErr.Op), zap.Error(storageErr.Err))
		h.sendError(w, "Failed to "+action, http.StatusInternalServerError)
	default:
		h.Log.Error(action+": unexpected error", zap.Error(err))
		h.sendError(w, "Failed to "+action, http.StatusInternalServerError)
	}
}

func (h *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := h.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			if origin != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowedOrigin returns the value for Access-Control-Allow-Origin, or "" to
// omit the header. An empty allow list permits every origin.
func (h *Handler) allowedOrigin(origin string) string {
	if len(h.AllowedOrigins) == 0 {
		return "*"
	}
	if origin != "" && slices.Contains(h.AllowedOrigins, origin) {
		return origin
	}
	return ""
}

func isJSONContentType(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return ct == "" || strings.HasPrefix(strings.ToLower(ct), "application/json")
}
