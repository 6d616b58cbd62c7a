package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gotodo/apiserver/internal/services"
	"github.com/gotodo/apiserver/internal/store"
	"github.com/gotodo/apiserver/types"
)

const maxAttachmentMemory = 32 << 20

// TodoHandler provides HTTP handlers for todos. Every route requires an
// authenticated identity and scopes results to it.
type TodoHandler struct {
	todos *services.TodoService
}

// NewTodoHandler constructs a handler for the provided service.
func NewTodoHandler(todos *services.TodoService) *TodoHandler {
	return &TodoHandler{todos: todos}
}

// TodoRouter registers todo routes on the given router.
func TodoRouter(r chi.Router, todos *services.TodoService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewTodoHandler(todos)

	r.Use(authMiddleware)
	r.Get("/", handler.ListTodos)
	r.Post("/", handler.CreateTodo)
	r.Route("/{todoID}", func(r chi.Router) {
		r.Put("/", handler.UpdateTodo)
		r.Delete("/", handler.DeleteTodo)
		r.Post("/attachment", handler.UploadAttachment)
		r.Get("/attachment", handler.GetAttachment)
	})
}

// ListTodos returns the caller's todos, filtered and sorted per query
// parameters. Admins may pass user_id to inspect another user's todos.
func (h *TodoHandler) ListTodos(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeUnauthenticated(w, "unauthorized")
		return
	}

	page, size, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	query := r.URL.Query()
	filter := store.TodoFilter{
		OwnerID:  user.ID,
		Search:   query.Get("search"),
		Status:   query.Get("status"),
		SortBy:   query.Get("sort_by"),
		SortDesc: strings.EqualFold(query.Get("sort_desc"), "true"),
		Offset:   offset,
		Limit:    size,
	}

	if raw := strings.TrimSpace(query.Get("user_id")); raw != "" {
		ownerID, err := strconv.Atoi(raw)
		if err != nil || ownerID < 1 {
			writeError(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		if ownerID != user.ID && !strings.EqualFold(user.Role, types.RoleAdmin) {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		filter.OwnerID = ownerID
	}

	if raw := strings.TrimSpace(query.Get("due_date_start")); raw != "" {
		start, err := parseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid due_date_start")
			return
		}
		filter.DueDateStart = start
	}

	items, total, err := h.todos.List(r.Context(), filter)
	if err != nil {
		if errors.Is(err, services.ErrInvalidStatus) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to list todos")
		return
	}

	writeJSON(w, http.StatusOK, TodoListResponse{
		Items: items,
		Total: total,
		Page:  page,
		Size:  size,
	})
}

// CreateTodo creates a todo owned by the caller.
func (h *TodoHandler) CreateTodo(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeUnauthenticated(w, "unauthorized")
		return
	}

	todo, err := decodeTodoRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.todos.Create(r.Context(), user, todo)
	if err != nil {
		writeTodoError(w, err, "failed to create todo")
		return
	}

	writeJSON(w, http.StatusOK, created)
}

// UpdateTodo replaces the mutable fields of one of the caller's todos.
func (h *TodoHandler) UpdateTodo(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeUnauthenticated(w, "unauthorized")
		return
	}

	id, err := parseTodoID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	todo, err := decodeTodoRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	todo.ID = id

	updated, err := h.todos.Update(r.Context(), user, todo)
	if err != nil {
		writeTodoError(w, err, "failed to update todo")
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// DeleteTodo removes one of the caller's todos.
func (h *TodoHandler) DeleteTodo(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeUnauthenticated(w, "unauthorized")
		return
	}

	id, err := parseTodoID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.todos.Delete(r.Context(), user, id); err != nil {
		writeTodoError(w, err, "failed to delete todo")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "todo deleted"})
}

// UploadAttachment stores a multipart file as the todo's attachment.
func (h *TodoHandler) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeUnauthenticated(w, "unauthorized")
		return
	}

	id, err := parseTodoID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := r.ParseMultipartForm(maxAttachmentMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	todo, err := h.todos.UploadAttachment(r.Context(), user, id, header.Filename, file, header.Size, contentType)
	if err != nil {
		writeTodoError(w, err, "failed to store attachment")
		return
	}

	writeJSON(w, http.StatusOK, todo)
}

// GetAttachment streams the todo's attachment back to the caller.
func (h *TodoHandler) GetAttachment(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeUnauthenticated(w, "unauthorized")
		return
	}

	id, err := parseTodoID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reader, key, err := h.todos.OpenAttachment(r.Context(), user, id)
	if err != nil {
		writeTodoError(w, err, "failed to open attachment")
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(key)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, reader)
}

// TodoRequest is the JSON body for create and update. The due date
// accepts either a bare date (2006-01-02) or RFC 3339.
type TodoRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Duration    string `json:"duration"`
	DueDate     string `json:"due_date"`
}

type TodoListResponse struct {
	Items []types.Todo `json:"items"`
	Total int          `json:"total"`
	Page  int          `json:"page"`
	Size  int          `json:"size"`
}

func decodeTodoRequest(r *http.Request) (types.Todo, error) {
	var req TodoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return types.Todo{}, errors.New("invalid request")
	}

	todo := types.Todo{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Duration:    req.Duration,
	}
	if raw := strings.TrimSpace(req.DueDate); raw != "" {
		due, err := parseDate(raw)
		if err != nil {
			return types.Todo{}, errors.New("invalid due_date")
		}
		todo.DueDate = due
	}
	return todo, nil
}

func parseDate(raw string) (*time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseTodoID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "todoID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("invalid todo id")
	}
	return id, nil
}

func writeTodoError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "todo not found")
	case errors.Is(err, services.ErrTitleRequired), errors.Is(err, services.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrAttachmentsDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
