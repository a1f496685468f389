package orchestration

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrInstanceNotFound is returned when no instance exists for an id
var ErrInstanceNotFound = errors.New("orchestration instance not found")

// Repository defines the interface for orchestration instance persistence.
// The store owns the instance record; the engine is a pure function over it.
type Repository interface {
	// Create persists a new instance
	Create(ctx context.Context, instance Instance) error

	// Get retrieves an instance by id
	Get(ctx context.Context, id uuid.UUID) (Instance, error)

	// Update overwrites an instance's mutable state (status, next step,
	// history, output, error, updated_at)
	Update(ctx context.Context, instance Instance) error

	// ListResumable returns instances in a non-terminal state, oldest first
	ListResumable(ctx context.Context) ([]Instance, error)
}
