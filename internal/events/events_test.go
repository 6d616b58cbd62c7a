package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type captureBackend struct {
	channel string
	data    []byte
	attrs   map[string]string
	err     error
	closed  bool
}

func (b *captureBackend) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	b.channel = channel
	b.data = data
	b.attrs = attrs
	return "msg-1", b.err
}

func (b *captureBackend) Close() error {
	b.closed = true
	return nil
}

func TestPublishTodoEvent(t *testing.T) {
	backend := &captureBackend{}
	publisher := NewPublisher(backend)

	at := time.Date(2026, time.March, 1, 9, 30, 0, 0, time.UTC)
	err := publisher.PublishTodoEvent(context.Background(), TodoEvent{
		Event:  TodoCreated,
		TodoID: 42,
		Owner:  "alice@example.com",
		At:     at,
	})
	if err != nil {
		t.Fatalf("PublishTodoEvent() unexpected error: %v", err)
	}

	if backend.channel != "todo-events" {
		t.Errorf("channel = %q, want %q", backend.channel, "todo-events")
	}
	if backend.attrs["event"] != TodoCreated {
		t.Errorf("event attr = %q, want %q", backend.attrs["event"], TodoCreated)
	}

	var decoded TodoEvent
	if err := json.Unmarshal(backend.data, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded.Event != TodoCreated || decoded.TodoID != 42 || decoded.Owner != "alice@example.com" {
		t.Errorf("payload = %+v", decoded)
	}
	if !decoded.At.Equal(at) {
		t.Errorf("at = %v, want %v", decoded.At, at)
	}
}

func TestPublishTodoEventDefaultsTimestamp(t *testing.T) {
	backend := &captureBackend{}
	publisher := NewPublisher(backend)

	before := time.Now()
	if err := publisher.PublishTodoEvent(context.Background(), TodoEvent{Event: TodoDeleted, TodoID: 7}); err != nil {
		t.Fatalf("PublishTodoEvent() unexpected error: %v", err)
	}

	var decoded TodoEvent
	if err := json.Unmarshal(backend.data, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded.At.Before(before.Truncate(time.Second)) {
		t.Errorf("at = %v, want defaulted to publish time", decoded.At)
	}
}

func TestPublishTodoEventPropagatesBackendError(t *testing.T) {
	wantErr := errors.New("broker down")
	publisher := NewPublisher(&captureBackend{err: wantErr})

	err := publisher.PublishTodoEvent(context.Background(), TodoEvent{Event: TodoUpdated, TodoID: 1})
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestCloseClosesBackend(t *testing.T) {
	backend := &captureBackend{}
	publisher := NewPublisher(backend)

	if err := publisher.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}
	if !backend.closed {
		t.Error("backend not closed")
	}
}
