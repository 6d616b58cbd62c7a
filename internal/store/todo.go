package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gotodo/apiserver/types"
)

// TodoFilter scopes and shapes a todo listing. OwnerID is mandatory:
// every query is filtered to the owning user.
type TodoFilter struct {
	OwnerID      int
	Search       string
	Status       string
	DueDateStart *time.Time
	SortBy       string
	SortDesc     bool
	Offset       int
	Limit        int
}

// Columns accepted for sort_by. Anything else falls back to created_at.
var sortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"due_date":   "due_date",
	"title":      "title",
	"status":     "status",
}

const todoColumns = "id, title, description, status, duration, due_date, attachment_key, user_id, created_at, updated_at"

// TodoRepository handles persistence for todos.
type TodoRepository struct {
	db *sql.DB
}

func NewTodoRepository(db *sql.DB) *TodoRepository {
	return &TodoRepository{db: db}
}

func (r *TodoRepository) List(ctx context.Context, filter TodoFilter) ([]types.Todo, int, error) {
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.Limit < 1 {
		filter.Limit = 20
	}

	where := []string{"user_id = $1"}
	args := []any{filter.OwnerID}

	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+escapeLikePattern(search)+"%")
		where = append(where, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.DueDateStart != nil {
		args = append(args, *filter.DueDateStart)
		where = append(where, fmt.Sprintf("due_date >= $%d", len(args)))
	}
	whereClause := strings.Join(where, " AND ")

	countQuery := "SELECT COUNT(1) FROM todos WHERE " + whereClause
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	orderColumn, ok := sortColumns[filter.SortBy]
	if !ok {
		orderColumn = "created_at"
	}
	direction := "ASC"
	if filter.SortDesc {
		direction = "DESC"
	}

	args = append(args, filter.Offset, filter.Limit)
	listQuery := fmt.Sprintf(
		"SELECT %s FROM todos WHERE %s ORDER BY %s %s, id %s OFFSET $%d LIMIT $%d",
		todoColumns, whereClause, orderColumn, direction, direction, len(args)-1, len(args),
	)

	rows, err := r.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	todos := make([]types.Todo, 0, filter.Limit)
	for rows.Next() {
		todo, err := scanTodo(rows)
		if err != nil {
			return nil, 0, err
		}
		todos = append(todos, todo)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return todos, total, nil
}

// Get fetches a single todo owned by ownerID. A todo belonging to a
// different user is indistinguishable from a missing one.
func (r *TodoRepository) Get(ctx context.Context, id int64, ownerID int) (types.Todo, error) {
	query := "SELECT " + todoColumns + " FROM todos WHERE id = $1 AND user_id = $2"
	row := r.db.QueryRowContext(ctx, query, id, ownerID)
	todo, err := scanTodo(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Todo{}, ErrNotFound
		}
		return types.Todo{}, err
	}
	return todo, nil
}

func (r *TodoRepository) Create(ctx context.Context, todo types.Todo) (types.Todo, error) {
	now := time.Now()
	todo.CreatedAt = now
	todo.UpdatedAt = now

	const query = `
		INSERT INTO todos (title, description, status, duration, due_date, attachment_key, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		todo.Title,
		nullString(todo.Description),
		todo.Status,
		nullString(todo.Duration),
		nullTime(todo.DueDate),
		nullString(todo.AttachmentKey),
		todo.UserID,
		todo.CreatedAt,
		todo.UpdatedAt,
	).Scan(&todo.ID); err != nil {
		return types.Todo{}, err
	}
	return todo, nil
}

func (r *TodoRepository) Update(ctx context.Context, todo types.Todo) (types.Todo, error) {
	todo.UpdatedAt = time.Now()

	const query = `
		UPDATE todos
		SET title = $1,
			description = $2,
			status = $3,
			duration = $4,
			due_date = $5,
			updated_at = $6
		WHERE id = $7 AND user_id = $8`
	result, err := r.db.ExecContext(
		ctx,
		query,
		todo.Title,
		nullString(todo.Description),
		todo.Status,
		nullString(todo.Duration),
		nullTime(todo.DueDate),
		todo.UpdatedAt,
		todo.ID,
		todo.UserID,
	)
	if err != nil {
		return types.Todo{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Todo{}, err
	}
	if affected == 0 {
		return types.Todo{}, ErrNotFound
	}
	return todo, nil
}

func (r *TodoRepository) Delete(ctx context.Context, id int64, ownerID int) error {
	const query = `DELETE FROM todos WHERE id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAttachmentKey records the object-storage key of the todo's attachment.
func (r *TodoRepository) SetAttachmentKey(ctx context.Context, id int64, ownerID int, key string) error {
	const query = `
		UPDATE todos
		SET attachment_key = $1,
			updated_at = $2
		WHERE id = $3 AND user_id = $4`
	result, err := r.db.ExecContext(ctx, query, nullString(key), time.Now(), id, ownerID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLikePattern neutralizes LIKE metacharacters so user input matches
// literally inside an ILIKE pattern.
func escapeLikePattern(s string) string {
	return likeEscaper.Replace(s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTodo(row rowScanner) (types.Todo, error) {
	var todo types.Todo
	var description, duration, attachmentKey sql.NullString
	var dueDate sql.NullTime
	if err := row.Scan(
		&todo.ID,
		&todo.Title,
		&description,
		&todo.Status,
		&duration,
		&dueDate,
		&attachmentKey,
		&todo.UserID,
		&todo.CreatedAt,
		&todo.UpdatedAt,
	); err != nil {
		return types.Todo{}, err
	}
	todo.Description = description.String
	todo.Duration = duration.String
	todo.AttachmentKey = attachmentKey.String
	if dueDate.Valid {
		due := dueDate.Time
		todo.DueDate = &due
	}
	return todo, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
