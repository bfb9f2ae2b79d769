package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initTaskSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initTaskSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS generation_tasks (
			task_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			request JSONB NOT NULL DEFAULT '{}',
			result JSONB NULL,
			artifact_path TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_generation_tasks_status ON generation_tasks (status);`,
		`CREATE INDEX IF NOT EXISTS idx_generation_tasks_user_created ON generation_tasks (user_id, created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init task schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const taskSelect = `SELECT task_id, status, request, result, artifact_path, error, user_id, created_at, updated_at
	FROM generation_tasks`

func (s *PostgresStore) GetTask(ctx context.Context, id string) (Task, error) {
	row := s.pool.QueryRow(ctx, taskSelect+` WHERE task_id=$1`, id)
	t, err := scanTask(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Task{}, ErrStoreNotFound
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) InsertTask(ctx context.Context, t Task) error {
	return s.upsertTask(ctx, t)
}

func (s *PostgresStore) SaveTask(ctx context.Context, t Task) error {
	return s.upsertTask(ctx, t)
}

func (s *PostgresStore) upsertTask(ctx context.Context, t Task) error {
	request, err := json.Marshal(t.Request)
	if err != nil {
		return fmt.Errorf("marshal task request: %w", err)
	}
	var result []byte
	if t.Result != nil {
		result, err = json.Marshal(t.Result)
		if err != nil {
			return fmt.Errorf("marshal task result: %w", err)
		}
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO generation_tasks (
			task_id, status, request, result, artifact_path, error, user_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (task_id) DO UPDATE SET
			status=EXCLUDED.status,
			result=EXCLUDED.result,
			artifact_path=EXCLUDED.artifact_path,
			error=EXCLUDED.error,
			updated_at=EXCLUDED.updated_at`,
		t.ID,
		string(t.Status),
		request,
		result,
		t.ArtifactPath,
		t.Error,
		t.UserID,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, userID string, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		taskSelect+` WHERE ($1 = '' OR user_id = $1) ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := make([]Task, 0, limit)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanTask(row pgx.Row) (Task, error) {
	var (
		t       Task
		status  string
		request []byte
		result  []byte
	)
	if err := row.Scan(
		&t.ID,
		&status,
		&request,
		&result,
		&t.ArtifactPath,
		&t.Error,
		&t.UserID,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return Task{}, err
	}
	t.Status = Status(status)
	if len(request) > 0 {
		if err := json.Unmarshal(request, &t.Request); err != nil {
			return Task{}, fmt.Errorf("unmarshal task request: %w", err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &t.Result); err != nil {
			return Task{}, fmt.Errorf("unmarshal task result: %w", err)
		}
	}
	return t, nil
}
