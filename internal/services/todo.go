package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gotodo/apiserver/internal/events"
	"github.com/gotodo/apiserver/internal/storage"
	"github.com/gotodo/apiserver/internal/store"
	"github.com/gotodo/apiserver/types"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

var (
	// ErrTitleRequired is returned when a todo is created or updated
	// without a title.
	ErrTitleRequired = errors.New("title is required")

	// ErrInvalidStatus is returned for a status outside the known set.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrAttachmentsDisabled is returned when no object storage backend
	// is configured.
	ErrAttachmentsDisabled = errors.New("attachments are not configured")
)

// TodoRepository defines persistence operations for todos.
type TodoRepository interface {
	List(ctx context.Context, filter store.TodoFilter) ([]types.Todo, int, error)
	Get(ctx context.Context, id int64, ownerID int) (types.Todo, error)
	Create(ctx context.Context, todo types.Todo) (types.Todo, error)
	Update(ctx context.Context, todo types.Todo) (types.Todo, error)
	Delete(ctx context.Context, id int64, ownerID int) error
	SetAttachmentKey(ctx context.Context, id int64, ownerID int, key string) error
}

// EventPublisher publishes todo lifecycle events. Publishing is
// best-effort: a broker failure never fails the request.
type EventPublisher interface {
	PublishTodoEvent(ctx context.Context, event events.TodoEvent) error
}

// TodoService encapsulates todo use-cases: owner scoping, defaults,
// due-date normalization, attachments, and event publishing.
type TodoService struct {
	repo        TodoRepository
	attachments *storage.AttachmentStore
	events      EventPublisher
}

// NewTodoService constructs a TodoService. Attachments and events are
// optional; pass nil to disable them.
func NewTodoService(repo TodoRepository, attachments *storage.AttachmentStore, publisher EventPublisher) *TodoService {
	return &TodoService{
		repo:        repo,
		attachments: attachments,
		events:      publisher,
	}
}

// List returns the owner-scoped todo page described by filter.
func (s *TodoService) List(ctx context.Context, filter store.TodoFilter) ([]types.Todo, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Status != "" && !types.ValidStatus(filter.Status) {
		return nil, 0, ErrInvalidStatus
	}
	return s.repo.List(ctx, filter)
}

// Get fetches a single todo owned by owner.
func (s *TodoService) Get(ctx context.Context, owner types.User, id int64) (types.Todo, error) {
	return s.repo.Get(ctx, id, owner.ID)
}

// Create stores a new todo for owner, defaulting the status to BACKLOG
// and normalizing the due date.
func (s *TodoService) Create(ctx context.Context, owner types.User, todo types.Todo) (types.Todo, error) {
	todo.UserID = owner.ID
	todo.AttachmentKey = ""
	if err := normalizeTodo(&todo); err != nil {
		return types.Todo{}, err
	}

	created, err := s.repo.Create(ctx, todo)
	if err != nil {
		return types.Todo{}, err
	}

	s.publish(ctx, events.TodoCreated, created.ID, owner.Email)
	return created, nil
}

// Update replaces the mutable fields of a todo owned by owner. A todo
// belonging to someone else reports store.ErrNotFound.
func (s *TodoService) Update(ctx context.Context, owner types.User, todo types.Todo) (types.Todo, error) {
	todo.UserID = owner.ID
	if err := normalizeTodo(&todo); err != nil {
		return types.Todo{}, err
	}

	updated, err := s.repo.Update(ctx, todo)
	if err != nil {
		return types.Todo{}, err
	}

	s.publish(ctx, events.TodoUpdated, updated.ID, owner.Email)
	return updated, nil
}

// Delete removes a todo owned by owner, along with its attachment.
func (s *TodoService) Delete(ctx context.Context, owner types.User, id int64) error {
	todo, err := s.repo.Get(ctx, id, owner.ID)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id, owner.ID); err != nil {
		return err
	}

	if todo.AttachmentKey != "" && s.attachments != nil {
		if err := s.attachments.Delete(ctx, todo.AttachmentKey); err != nil {
			fmt.Fprintf(os.Stderr, "delete attachment %s: %v\n", todo.AttachmentKey, err)
		}
	}

	s.publish(ctx, events.TodoDeleted, id, owner.Email)
	return nil
}

// UploadAttachment stores the attachment bytes in object storage and
// records the key on the todo, replacing any previous attachment.
func (s *TodoService) UploadAttachment(ctx context.Context, owner types.User, id int64, filename string, r io.Reader, size int64, contentType string) (types.Todo, error) {
	if s.attachments == nil {
		return types.Todo{}, ErrAttachmentsDisabled
	}

	todo, err := s.repo.Get(ctx, id, owner.ID)
	if err != nil {
		return types.Todo{}, err
	}

	key := fmt.Sprintf("todos/%d/%s%s", id, uuid.NewString(), path.Ext(filename))
	if err := s.attachments.Put(ctx, key, r, size, contentType); err != nil {
		return types.Todo{}, err
	}

	if err := s.repo.SetAttachmentKey(ctx, id, owner.ID, key); err != nil {
		_ = s.attachments.Delete(ctx, key)
		return types.Todo{}, err
	}

	if todo.AttachmentKey != "" {
		if err := s.attachments.Delete(ctx, todo.AttachmentKey); err != nil {
			fmt.Fprintf(os.Stderr, "delete attachment %s: %v\n", todo.AttachmentKey, err)
		}
	}

	todo.AttachmentKey = key
	s.publish(ctx, events.TodoUpdated, id, owner.Email)
	return todo, nil
}

// OpenAttachment streams the todo's attachment. A todo without an
// attachment reports store.ErrNotFound.
func (s *TodoService) OpenAttachment(ctx context.Context, owner types.User, id int64) (io.ReadCloser, string, error) {
	if s.attachments == nil {
		return nil, "", ErrAttachmentsDisabled
	}

	todo, err := s.repo.Get(ctx, id, owner.ID)
	if err != nil {
		return nil, "", err
	}
	if todo.AttachmentKey == "" {
		return nil, "", store.ErrNotFound
	}

	reader, err := s.attachments.Get(ctx, todo.AttachmentKey)
	if err != nil {
		return nil, "", err
	}
	return reader, todo.AttachmentKey, nil
}

func (s *TodoService) publish(ctx context.Context, name string, todoID int64, owner string) {
	if s.events == nil {
		return
	}
	event := events.TodoEvent{Event: name, TodoID: todoID, Owner: owner}
	if err := s.events.PublishTodoEvent(ctx, event); err != nil {
		fmt.Fprintf(os.Stderr, "publish %s for todo %d: %v\n", name, todoID, err)
	}
}

func normalizeTodo(todo *types.Todo) error {
	todo.Title = strings.TrimSpace(todo.Title)
	if todo.Title == "" {
		return ErrTitleRequired
	}
	if todo.Status == "" {
		todo.Status = types.StatusBacklog
	}
	if !types.ValidStatus(todo.Status) {
		return ErrInvalidStatus
	}
	todo.DueDate = NormalizeDueDate(todo.DueDate)
	return nil
}

// NormalizeDueDate pins a due date to noon UTC of its calendar day so
// that date-only client input round-trips through time zones intact.
func NormalizeDueDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	normalized := time.Date(utc.Year(), utc.Month(), utc.Day(), 12, 0, 0, 0, time.UTC)
	return &normalized
}
