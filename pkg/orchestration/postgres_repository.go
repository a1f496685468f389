package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository using PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE orchestration_instances (
//	    id         UUID PRIMARY KEY,
//	    name       TEXT NOT NULL,
//	    status     TEXT NOT NULL,
//	    input      TEXT NOT NULL DEFAULT '',
//	    output     TEXT NOT NULL DEFAULT '',
//	    next_step  INT NOT NULL DEFAULT 0,
//	    history    JSONB NOT NULL DEFAULT '[]',
//	    error      TEXT NOT NULL DEFAULT '',
//	    created_at TIMESTAMPTZ NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL
//	);
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL instance repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{
		pool: pool,
	}
}

// Create persists a new instance
func (r *PostgresRepository) Create(ctx context.Context, instance Instance) error {
	history, err := json.Marshal(instance.History)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	query := `
		INSERT INTO orchestration_instances (
			id, name, status, input, output, next_step, history, error, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`
	_, err = r.pool.Exec(ctx, query,
		instance.ID,
		instance.Name,
		string(instance.Status),
		instance.Input,
		instance.Output,
		instance.NextStep,
		history,
		instance.Error,
		instance.CreatedAt,
		instance.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create instance: %w", err)
	}
	return nil
}

// Get retrieves an instance by id
func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (Instance, error) {
	query := `
		SELECT id, name, status, input, output, next_step, history, error, created_at, updated_at
		FROM orchestration_instances
		WHERE id = $1
	`
	instance, err := r.scanInstance(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Instance{}, ErrInstanceNotFound
		}
		return Instance{}, fmt.Errorf("failed to get instance: %w", err)
	}
	return instance, nil
}

// Update overwrites an instance's mutable state
func (r *PostgresRepository) Update(ctx context.Context, instance Instance) error {
	history, err := json.Marshal(instance.History)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	query := `
		UPDATE orchestration_instances
		SET status = $2, output = $3, next_step = $4, history = $5, error = $6, updated_at = $7
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query,
		instance.ID,
		string(instance.Status),
		instance.Output,
		instance.NextStep,
		history,
		instance.Error,
		instance.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

// ListResumable returns non-terminal instances, oldest first
func (r *PostgresRepository) ListResumable(ctx context.Context) ([]Instance, error) {
	query := `
		SELECT id, name, status, input, output, next_step, history, error, created_at, updated_at
		FROM orchestration_instances
		WHERE status NOT IN ($1, $2)
		ORDER BY created_at
	`
	rows, err := r.pool.Query(ctx, query, string(StatusCompleted), string(StatusFailed))
	if err != nil {
		return nil, fmt.Errorf("failed to list resumable instances: %w", err)
	}
	defer rows.Close()

	var instances []Instance
	for rows.Next() {
		instance, err := r.scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, instance)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate instances: %w", err)
	}
	return instances, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepository) scanInstance(row rowScanner) (Instance, error) {
	var instance Instance
	var status string
	var history []byte

	err := row.Scan(
		&instance.ID,
		&instance.Name,
		&status,
		&instance.Input,
		&instance.Output,
		&instance.NextStep,
		&history,
		&instance.Error,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if err != nil {
		return Instance{}, err
	}

	instance.Status = Status(status)
	if len(history) > 0 {
		if err := json.Unmarshal(history, &instance.History); err != nil {
			return Instance{}, fmt.Errorf("failed to unmarshal history: %w", err)
		}
	}
	return instance, nil
}
