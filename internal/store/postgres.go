package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mjgate/internal/model"
)

// PostgresStore backs both TaskStore and AccountStore on a pgx pool.
// Records are stored as jsonb with indexed columns for the lookups the
// core performs (by id, by instance, by submit time).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects and pings the database.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Tasks returns the TaskStore view.
func (s *PostgresStore) Tasks() TaskStore { return &pgTaskStore{pool: s.pool} }

// Accounts returns the AccountStore view.
func (s *PostgresStore) Accounts() AccountStore { return &pgAccountStore{pool: s.pool} }

type pgTaskStore struct {
	pool *pgxpool.Pool
}

func (s *pgTaskStore) Get(ctx context.Context, id string) (*model.Task, error) {
	var record []byte
	err := s.pool.QueryRow(ctx, `SELECT record FROM tasks WHERE id = $1`, id).Scan(&record)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	t := &model.Task{}
	if err := json.Unmarshal(record, t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return t, nil
}

func (s *pgTaskStore) Save(ctx context.Context, t *model.Task) error {
	record, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tasks (id, instance_id, status, submit_time, record)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET instance_id = EXCLUDED.instance_id,
		    status = EXCLUDED.status,
		    record = EXCLUDED.record,
		    updated_at = now()`,
		t.ID, t.InstanceID, string(t.GetStatus()), t.SubmitTime, record)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

func (s *pgTaskStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

func (s *pgTaskStore) GetAllIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM tasks ORDER BY submit_time`)
	if err != nil {
		return nil, fmt.Errorf("list task ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *pgTaskStore) ListByInstance(ctx context.Context, instanceID string, limit int) ([]*model.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT record FROM tasks
		WHERE instance_id = $1
		ORDER BY submit_time DESC
		LIMIT $2`, instanceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks for %s: %w", instanceID, err)
	}
	defer rows.Close()
	var out []*model.Task
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		t := &model.Task{}
		if err := json.Unmarshal(record, t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type pgAccountStore struct {
	pool *pgxpool.Pool
}

func (s *pgAccountStore) Get(ctx context.Context, id string) (*model.Account, error) {
	var record []byte
	err := s.pool.QueryRow(ctx, `SELECT record FROM accounts WHERE id = $1`, id).Scan(&record)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	a := &model.Account{}
	if err := json.Unmarshal(record, a); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", id, err)
	}
	return a, nil
}

func (s *pgAccountStore) Save(ctx context.Context, a *model.Account) error {
	record, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode account %s: %w", a.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO accounts (id, channel_id, record)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET channel_id = EXCLUDED.channel_id,
		    record = EXCLUDED.record,
		    updated_at = now()`,
		a.ID, a.ChannelID, record)
	if err != nil {
		return fmt.Errorf("save account %s: %w", a.ID, err)
	}
	return nil
}

func (s *pgAccountStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete account %s: %w", id, err)
	}
	return nil
}

func (s *pgAccountStore) GetAll(ctx context.Context) ([]*model.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT record FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	var out []*model.Account
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		a := &model.Account{}
		if err := json.Unmarshal(record, a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
