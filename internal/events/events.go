package events

import (
	"context"
	"encoding/json"
	"time"
)

// Channel all todo lifecycle events are published to.
const todoChannel = "todo-events"

// Event names.
const (
	TodoCreated = "todo.created"
	TodoUpdated = "todo.updated"
	TodoDeleted = "todo.deleted"
)

// TodoEvent is the broker-agnostic payload published on todo mutations.
type TodoEvent struct {
	Event  string    `json:"event"`
	TodoID int64     `json:"todo_id"`
	Owner  string    `json:"owner"`
	At     time.Time `json:"at"`
}

// Backend defines the broker-agnostic publish operations used by the app.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Close() error
}

// Publisher serializes todo events onto a backend.
type Publisher struct {
	backend Backend
}

// NewPublisher constructs a Publisher for the provided backend.
func NewPublisher(backend Backend) *Publisher {
	return &Publisher{backend: backend}
}

// PublishTodoEvent sends a todo lifecycle event to the todo channel.
func (p *Publisher) PublishTodoEvent(ctx context.Context, event TodoEvent) error {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = p.backend.Publish(ctx, todoChannel, data, map[string]string{"event": event.Event})
	return err
}

// Close closes the underlying backend.
func (p *Publisher) Close() error {
	return p.backend.Close()
}
