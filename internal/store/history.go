package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// DefaultHistoryLimit is how many tasks are retained.
const DefaultHistoryLimit = 10

var ErrTaskNotFound = errors.New("task not found")

type HistoryStore struct {
	DB    *sql.DB
	limit int
}

func NewHistoryStore(dbPath string, limit int) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite is single-writer; one connection also keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)

	queries := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			title TEXT,
			description TEXT,
			mode TEXT,
			source TEXT,
			steps TEXT,
			created_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, err
		}
	}

	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &HistoryStore{DB: db, limit: limit}, nil
}

func (h *HistoryStore) Close() error {
	return h.DB.Close()
}

// SaveTask inserts the task and prunes everything beyond the history limit.
func (h *HistoryStore) SaveTask(task Task) error {
	steps, err := json.Marshal(task.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode steps: %w", err)
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	query := `INSERT OR REPLACE INTO tasks (id, title, description, mode, source, steps, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := h.DB.Exec(query, task.ID, task.Title, task.Description, string(task.Mode), task.Source, string(steps), task.CreatedAt.UnixNano()); err != nil {
		return err
	}

	prune := `DELETE FROM tasks WHERE id NOT IN (SELECT id FROM tasks ORDER BY created_at DESC, rowid DESC LIMIT ?)`
	_, err = h.DB.Exec(prune, h.limit)
	return err
}

// UpdateTaskSteps replaces the stored step list of a task.
func (h *HistoryStore) UpdateTaskSteps(id string, steps []Step) error {
	data, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("failed to encode steps: %w", err)
	}
	res, err := h.DB.Exec(`UPDATE tasks SET steps = ? WHERE id = ?`, string(data), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (h *HistoryStore) GetTask(id string) (*Task, error) {
	row := h.DB.QueryRow(`SELECT id, title, description, mode, source, steps, created_at FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return task, err
}

// RecentTasks returns up to limit tasks, newest first.
func (h *HistoryStore) RecentTasks(limit int) ([]Task, error) {
	if limit <= 0 || limit > h.limit {
		limit = h.limit
	}
	rows, err := h.DB.Query(`SELECT id, title, description, mode, source, steps, created_at FROM tasks ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*Task, error) {
	var (
		task      Task
		mode      string
		steps     string
		createdAt int64
	)
	if err := s.Scan(&task.ID, &task.Title, &task.Description, &mode, &task.Source, &steps, &createdAt); err != nil {
		return nil, err
	}
	task.Mode = Mode(mode)
	task.CreatedAt = time.Unix(0, createdAt)
	if err := json.Unmarshal([]byte(steps), &task.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode steps for task %s: %w", task.ID, err)
	}
	return &task, nil
}

// Get returns the value stored under key.
func (h *HistoryStore) Get(key string) (string, bool, error) {
	var value string
	err := h.DB.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (h *HistoryStore) Set(key, value string) error {
	_, err := h.DB.Exec(`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`, key, value)
	return err
}

func (h *HistoryStore) Delete(key string) error {
	_, err := h.DB.Exec(`DELETE FROM kv WHERE key = ?`, key)
	return err
}
