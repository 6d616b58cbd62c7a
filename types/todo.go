package types

import "time"

// Todo statuses, ordered roughly by progress through the board.
const (
	StatusBacklog    = "BACKLOG"
	StatusPending    = "PENDING"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
)

// ValidStatus reports whether s is one of the known todo statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusBacklog, StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Todo represents a single todo item owned by exactly one user.
type Todo struct {
	// ID is the unique identifier of the todo.
	ID int64 `json:"id" db:"id"`

	// Title is the required short summary of the todo.
	Title string `json:"title" db:"title"`

	// Description is an optional longer free-form text.
	Description string `json:"description,omitempty" db:"description"`

	// Status tracks the todo through the board, one of BACKLOG,
	// PENDING, IN_PROGRESS, or COMPLETED.
	Status string `json:"status" db:"status"`

	// Duration is an optional free-form estimate (e.g. "2h", "3 days").
	Duration string `json:"duration,omitempty" db:"duration"`

	// DueDate is the optional deadline. It is stored normalized to
	// noon UTC of its calendar day.
	DueDate *time.Time `json:"due_date,omitempty" db:"due_date"`

	// AttachmentKey is the object-storage key of the todo's attachment,
	// empty when no attachment has been uploaded.
	AttachmentKey string `json:"attachment_key,omitempty" db:"attachment_key"`

	// UserID references the owning user. A todo never outlives its
	// scoping: every lookup and mutation filters on this field.
	UserID int `json:"user_id" db:"user_id"`

	// CreatedAt is the timestamp at which the todo was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the todo.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
