package orchestration

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// InMemRepository implements Repository using an in-memory map. All data is
// lost when the process stops; use the Postgres repository for durability.
type InMemRepository struct {
	instances map[uuid.UUID]Instance
	mu        sync.Mutex
}

// NewInMemRepository creates a new in-memory instance repository
func NewInMemRepository() *InMemRepository {
	return &InMemRepository{
		instances: make(map[uuid.UUID]Instance),
	}
}

// Create persists a new instance in memory
func (r *InMemRepository) Create(ctx context.Context, instance Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instances[instance.ID]; exists {
		return fmt.Errorf("instance already exists: %s", instance.ID)
	}

	r.instances[instance.ID] = cloneInstance(instance)
	return nil
}

// Get retrieves an instance by id
func (r *InMemRepository) Get(ctx context.Context, id uuid.UUID) (Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	instance, exists := r.instances[id]
	if !exists {
		return Instance{}, ErrInstanceNotFound
	}
	return cloneInstance(instance), nil
}

// Update overwrites an instance's state
func (r *InMemRepository) Update(ctx context.Context, instance Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instances[instance.ID]; !exists {
		return ErrInstanceNotFound
	}

	r.instances[instance.ID] = cloneInstance(instance)
	return nil
}

// ListResumable returns non-terminal instances, oldest first
func (r *InMemRepository) ListResumable(ctx context.Context) ([]Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var resumable []Instance
	for _, instance := range r.instances {
		if !instance.Status.Terminal() {
			resumable = append(resumable, cloneInstance(instance))
		}
	}

	sort.Slice(resumable, func(i, j int) bool {
		return resumable[i].CreatedAt.Before(resumable[j].CreatedAt)
	})
	return resumable, nil
}

// cloneInstance copies an instance including its history slice so callers
// never share backing arrays with the store
func cloneInstance(instance Instance) Instance {
	clone := instance
	if instance.History != nil {
		clone.History = make([]StepResult, len(instance.History))
		copy(clone.History, instance.History)
	}
	return clone
}
