//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/gotodo/apiserver/config"
	"github.com/gotodo/apiserver/internal/db"
	"github.com/gotodo/apiserver/internal/server"
	_ "github.com/lib/pq"
)

const (
	serverPort = 18080
)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	if err := dockerCompose(ctx, root, "up", "-d"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	if err := waitForPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := runMigrations(root); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	srv, err := startServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown()
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown()
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

func TestTodoLifecycle(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	email := fmt.Sprintf("user_%d@example.com", time.Now().UnixNano())
	password := "testpass123!"

	token, err := registerUser(t, baseURL, email, password)
	if err != nil {
		t.Fatalf("register user: %v", err)
	}

	loginToken, err := loginUser(t, baseURL, email, password)
	if err != nil {
		t.Fatalf("login user: %v", err)
	}
	if loginToken == "" {
		t.Fatal("login returned empty token")
	}

	created, err := createTodo(t, baseURL, token, map[string]string{
		"title":       "Buy cat food",
		"description": "The expensive kind.",
		"status":      "PENDING",
		"due_date":    "2026-10-27",
	})
	if err != nil {
		t.Fatalf("create todo: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("expected todo ID to be set")
	}
	if created.Title != "Buy cat food" {
		t.Fatalf("unexpected todo title: %q", created.Title)
	}
	if created.Status != "PENDING" {
		t.Fatalf("unexpected todo status: %q", created.Status)
	}

	updated, err := updateTodo(t, baseURL, token, created.ID, map[string]string{
		"title":  "Buy cat food today",
		"status": "COMPLETED",
	})
	if err != nil {
		t.Fatalf("update todo: %v", err)
	}
	if updated.Title != "Buy cat food today" {
		t.Fatalf("unexpected updated title: %q", updated.Title)
	}
	if updated.Status != "COMPLETED" {
		t.Fatalf("unexpected updated status: %q", updated.Status)
	}

	listed, err := listTodos(t, baseURL, token, "status=COMPLETED")
	if err != nil {
		t.Fatalf("list todos: %v", err)
	}
	if listed.Total != 1 || len(listed.Items) != 1 {
		t.Fatalf("expected 1 completed todo, got %d (total %d)", len(listed.Items), listed.Total)
	}
	if listed.Items[0].ID != created.ID {
		t.Fatalf("unexpected listed todo id: %d", listed.Items[0].ID)
	}

	if err := deleteTodo(t, baseURL, token, created.ID); err != nil {
		t.Fatalf("delete todo: %v", err)
	}

	empty, err := listTodos(t, baseURL, token, "")
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if empty.Total != 0 {
		t.Fatalf("expected no todos after delete, got %d", empty.Total)
	}
}

func TestTodoListFilters(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	email := fmt.Sprintf("filters_%d@example.com", time.Now().UnixNano())
	password := "testpass123!"

	token, err := registerUser(t, baseURL, email, password)
	if err != nil {
		t.Fatalf("register user: %v", err)
	}

	seed := []map[string]string{
		{"title": "Pay rent", "description": "transfer 100% of the deposit", "due_date": "2026-09-10"},
		{"title": "Call plumber", "description": "100 days until the kitchen sink floods", "due_date": "2026-09-20"},
		{"title": "Annual review", "due_date": "2026-10-05"},
	}
	for _, fields := range seed {
		if _, err := createTodo(t, baseURL, token, fields); err != nil {
			t.Fatalf("create todo %q: %v", fields["title"], err)
		}
	}

	byWord, err := listTodos(t, baseURL, token, "search=PLUMBER")
	if err != nil {
		t.Fatalf("list by search: %v", err)
	}
	if byWord.Total != 1 || len(byWord.Items) != 1 {
		t.Fatalf("search=PLUMBER matched %d todos (total %d), want 1", len(byWord.Items), byWord.Total)
	}
	if byWord.Items[0].Title != "Call plumber" {
		t.Fatalf("search=PLUMBER matched %q", byWord.Items[0].Title)
	}

	byDescription, err := listTodos(t, baseURL, token, "search=deposit")
	if err != nil {
		t.Fatalf("list by description search: %v", err)
	}
	if byDescription.Total != 1 || byDescription.Items[0].Title != "Pay rent" {
		t.Fatalf("search=deposit matched %d todos, first %v", byDescription.Total, byDescription.Items)
	}

	byPercent, err := listTodos(t, baseURL, token, "search="+url.QueryEscape("100%"))
	if err != nil {
		t.Fatalf("list by literal percent: %v", err)
	}
	if byPercent.Total != 1 || byPercent.Items[0].Title != "Pay rent" {
		t.Fatalf("search=100%% matched %d todos, first %v; want only the literal match", byPercent.Total, byPercent.Items)
	}

	upcoming, err := listTodos(t, baseURL, token, "due_date_start=2026-10-01")
	if err != nil {
		t.Fatalf("list by due_date_start: %v", err)
	}
	if upcoming.Total != 1 || upcoming.Items[0].Title != "Annual review" {
		t.Fatalf("due_date_start matched %d todos, first %v", upcoming.Total, upcoming.Items)
	}

	byTitle, err := listTodos(t, baseURL, token, "sort_by=title&size=100")
	if err != nil {
		t.Fatalf("list sorted by title: %v", err)
	}
	if len(byTitle.Items) != 3 {
		t.Fatalf("expected 3 todos sorted by title, got %d", len(byTitle.Items))
	}
	if byTitle.Items[0].Title != "Annual review" || byTitle.Items[2].Title != "Pay rent" {
		t.Fatalf("title sort order: %q .. %q", byTitle.Items[0].Title, byTitle.Items[2].Title)
	}

	byDue, err := listTodos(t, baseURL, token, "sort_by=due_date&sort_desc=true&size=100")
	if err != nil {
		t.Fatalf("list sorted by due date: %v", err)
	}
	if len(byDue.Items) != 3 {
		t.Fatalf("expected 3 todos sorted by due date, got %d", len(byDue.Items))
	}
	for i := 1; i < len(byDue.Items); i++ {
		prev, cur := byDue.Items[i-1].DueDate, byDue.Items[i].DueDate
		if prev == nil || cur == nil {
			t.Fatalf("missing due date in sorted listing: %v", byDue.Items)
		}
		if prev.Before(*cur) {
			t.Fatalf("descending due-date sort violated at %d: %v before %v", i, prev, cur)
		}
	}
}

func TestAdminUserList(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	email := fmt.Sprintf("admin_%d@example.com", time.Now().UnixNano())
	password := "testpass123!"

	token, err := registerUser(t, baseURL, email, password)
	if err != nil {
		t.Fatalf("register user: %v", err)
	}

	if err := expectStatus(t, baseURL+"/auth/users", token, http.StatusForbidden); err != nil {
		t.Fatalf("user listing users: %v", err)
	}

	if err := promoteUserToAdmin(email); err != nil {
		t.Fatalf("promote user: %v", err)
	}

	adminToken, err := loginUser(t, baseURL, email, password)
	if err != nil {
		t.Fatalf("login as admin: %v", err)
	}

	if err := expectStatus(t, baseURL+"/auth/users", adminToken, http.StatusOK); err != nil {
		t.Fatalf("admin listing users: %v", err)
	}
}

type todoResponse struct {
	ID      int64      `json:"id"`
	Title   string     `json:"title"`
	Status  string     `json:"status"`
	DueDate *time.Time `json:"due_date"`
}

type todoListResponse struct {
	Items []todoResponse `json:"items"`
	Total int            `json:"total"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func registerUser(t *testing.T, baseURL, email, password string) (string, error) {
	t.Helper()

	payload := map[string]string{
		"email":     email,
		"full_name": "Test User",
		"password":  password,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/auth/register", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("register status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("missing token in register response")
	}
	return parsed.AccessToken, nil
}

func loginUser(t *testing.T, baseURL, email, password string) (string, error) {
	t.Helper()

	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)

	resp, err := http.PostForm(baseURL+"/auth/login", form)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if parsed.TokenType != "bearer" {
		return "", fmt.Errorf("unexpected token type %q", parsed.TokenType)
	}
	return parsed.AccessToken, nil
}

func promoteUserToAdmin(email string) error {
	cfg := config.LoadConfig()
	conn, err := sql.Open("postgres", db.DSN(cfg.Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = conn.ExecContext(ctx, "UPDATE users SET role = 'admin', updated_at = NOW() WHERE email = $1", email)
	return err
}

func createTodo(t *testing.T, baseURL, token string, fields map[string]string) (todoResponse, error) {
	t.Helper()
	return todoRequest(t, http.MethodPost, baseURL+"/todos/", token, fields, http.StatusOK)
}

func updateTodo(t *testing.T, baseURL, token string, id int64, fields map[string]string) (todoResponse, error) {
	t.Helper()
	return todoRequest(t, http.MethodPut, fmt.Sprintf("%s/todos/%d", baseURL, id), token, fields, http.StatusOK)
}

func todoRequest(t *testing.T, method, target, token string, fields map[string]string, wantStatus int) (todoResponse, error) {
	t.Helper()

	body, err := json.Marshal(fields)
	if err != nil {
		return todoResponse{}, err
	}

	req, err := http.NewRequest(method, target, bytes.NewReader(body))
	if err != nil {
		return todoResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return todoResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		msg, _ := io.ReadAll(resp.Body)
		return todoResponse{}, fmt.Errorf("%s %s status %d: %s", method, target, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed todoResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return todoResponse{}, err
	}
	return parsed, nil
}

func listTodos(t *testing.T, baseURL, token, query string) (todoListResponse, error) {
	t.Helper()

	target := baseURL + "/todos/"
	if query != "" {
		target += "?" + query
	}
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return todoListResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return todoListResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return todoListResponse{}, fmt.Errorf("list status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed todoListResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return todoListResponse{}, err
	}
	return parsed, nil
}

func deleteTodo(t *testing.T, baseURL, token string, id int64) error {
	t.Helper()

	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/todos/%d", baseURL, id), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("delete status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func expectStatus(t *testing.T, target, token string, want int) error {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("expected %d, got %d: %s", want, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func waitForPostgres(ctx context.Context) error {
	cfg := config.LoadConfig()
	conn, err := sql.Open("postgres", db.DSN(cfg.Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func runMigrations(root string) error {
	cfg := config.LoadConfig()
	migrationsPath := filepath.Join(root, "internal", "db", "migrations")
	migrationsURL := "file://" + migrationsPath

	migrator, err := migrate.New(migrationsURL, db.DSN(cfg.Database))
	if err != nil {
		return err
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func startServer() (*server.Server, error) {
	_ = os.Setenv("JWT_SECRET", "test-secret")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "todo")
	_ = os.Setenv("DB_PASSWORD", "todo")
	_ = os.Setenv("DB_NAME", "todo_db")
	_ = os.Setenv("DB_USE_SSL", "false")

	cfg := config.LoadConfig()
	srv, err := server.New(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	go func() {
		_ = srv.Start()
	}()

	return srv, nil
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
