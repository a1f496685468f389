package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tendant/simple-obo/pkg/oboerrors"
)

// DefaultMaxConcurrent is the default worker pool size
const DefaultMaxConcurrent = 8

// DefaultDispatchInterval is how often the dispatcher sweeps the store for
// instances admitted while the worker pool was full
const DefaultDispatchInterval = time.Second

// Activity is a single side-effecting step. All I/O performed by an
// orchestration happens inside activities. Activities must tolerate
// re-invocation after a crash that lost the recorded result: from the
// orchestrator's observable viewpoint execution is at-most-once, because a
// result present in history is never re-executed.
type Activity func(ctx context.Context, input string) (string, error)

// Orchestrator is the control logic of one orchestration. It must be a pure
// function of its input and the recorded history: no clock reads, no random
// values, no direct I/O. Re-running it against identical input and history
// yields identical decisions and output.
type Orchestrator func(octx *Context) (string, error)

// Context is the orchestrator's window onto its instance. CallActivity is
// the only suspension point.
type Context struct {
	ctx      context.Context
	engine   *Engine
	instance *Instance
	step     int
}

// InstanceID returns the id of the running instance
func (c *Context) InstanceID() uuid.UUID {
	return c.instance.ID
}

// Input returns the opaque payload the instance was scheduled with
func (c *Context) Input() string {
	return c.instance.Input
}

// CallActivity executes the named activity, or returns its recorded result
// when this step already completed in a previous run of the instance. The
// instance record is persisted after every newly executed step, before the
// step counter advances.
func (c *Context) CallActivity(name, input string) (string, error) {
	step := c.step
	c.step++

	if step < len(c.instance.History) {
		recorded := c.instance.History[step]
		if recorded.Activity != name {
			return "", fmt.Errorf("history mismatch at step %d: recorded %q, requested %q", step, recorded.Activity, name)
		}
		if recorded.Error != "" {
			return "", fmt.Errorf("activity %s failed: %s", name, recorded.Error)
		}
		return recorded.Output, nil
	}

	// Cancellation is honored at every activity boundary
	if err := c.ctx.Err(); err != nil {
		return "", err
	}

	activity, ok := c.engine.activities[name]
	if !ok {
		return "", fmt.Errorf("unknown activity: %s", name)
	}

	slog.Info("executing activity", "instanceId", c.instance.ID, "step", step, "activity", name)
	output, actErr := activity(c.ctx, input)

	result := StepResult{
		Step:        step,
		Activity:    name,
		CompletedAt: time.Now().UTC(),
	}
	if actErr != nil {
		result.Error = actErr.Error()
	} else {
		result.Output = output
	}

	c.instance.History = append(c.instance.History, result)
	c.instance.NextStep = step + 1
	c.instance.UpdatedAt = result.CompletedAt
	if err := c.engine.repository.Update(c.ctx, *c.instance); err != nil {
		slog.Error("Failed persisting step result", "instanceId", c.instance.ID, "step", step, "err", err)
		return "", fmt.Errorf("failed to persist step result: %w", err)
	}

	if actErr != nil {
		return "", fmt.Errorf("activity %s failed: %w", name, actErr)
	}
	return output, nil
}

// Engine schedules and drives orchestration instances. Instances run fully
// independently on a bounded worker pool; within one instance the steps are
// strictly sequential. Admission is decoupled from execution: scheduling
// persists the instance and returns without waiting for a free worker, and
// a background dispatcher picks up instances the pool could not take
// immediately.
type Engine struct {
	repository       Repository
	orchestrators    map[string]Orchestrator
	activities       map[string]Activity
	maxConcurrent    int
	dispatchInterval time.Duration

	runCtx       context.Context
	cancel       context.CancelFunc
	group        *errgroup.Group
	dispatchDone chan struct{}

	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
}

// EngineOption is a function that configures an Engine
type EngineOption func(*Engine)

// WithMaxConcurrent sets the worker pool size
func WithMaxConcurrent(n int) EngineOption {
	return func(e *Engine) {
		e.maxConcurrent = n
	}
}

// WithDispatchInterval sets the dispatcher sweep interval
func WithDispatchInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.dispatchInterval = d
	}
}

// NewEngine creates an engine backed by the given instance repository.
// Call Start before scheduling.
func NewEngine(repository Repository, opts ...EngineOption) *Engine {
	e := &Engine{
		repository:       repository,
		orchestrators:    make(map[string]Orchestrator),
		activities:       make(map[string]Activity),
		maxConcurrent:    DefaultMaxConcurrent,
		dispatchInterval: DefaultDispatchInterval,
		inflight:         make(map[uuid.UUID]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterOrchestrator registers an orchestrator under a name
func (e *Engine) RegisterOrchestrator(name string, orchestrator Orchestrator) {
	e.orchestrators[name] = orchestrator
}

// RegisterActivity registers an activity under a name
func (e *Engine) RegisterActivity(name string, activity Activity) {
	e.activities[name] = activity
}

// Start launches the worker pool and the background dispatcher. The context
// bounds all instance work; canceling it stops instances at their next
// activity boundary.
func (e *Engine) Start(ctx context.Context) {
	e.runCtx, e.cancel = context.WithCancel(ctx)
	e.group = &errgroup.Group{}
	e.group.SetLimit(e.maxConcurrent)
	e.dispatchDone = make(chan struct{})
	go e.dispatchLoop()
}

// Shutdown cancels running instances and waits for the dispatcher and
// workers to drain
func (e *Engine) Shutdown() {
	if e.cancel != nil {
		e.cancel()
		<-e.dispatchDone
		e.group.Wait()
	}
}

// Schedule creates a new Pending instance for the named orchestrator and
// returns its id without waiting for a free worker. When the pool is full
// the instance stays Pending until a dispatcher sweep picks it up.
func (e *Engine) Schedule(ctx context.Context, name, input string) (uuid.UUID, error) {
	if e.runCtx == nil {
		return uuid.Nil, fmt.Errorf("engine not started")
	}
	if _, ok := e.orchestrators[name]; !ok {
		return uuid.Nil, fmt.Errorf("unknown orchestrator: %s", name)
	}

	now := time.Now().UTC()
	instance := Instance{
		ID:        uuid.New(),
		Name:      name,
		Status:    StatusPending,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.repository.Create(ctx, instance); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create instance: %w", err)
	}

	slog.Info("scheduled orchestration instance", "instanceId", instance.ID, "name", name)
	if !e.tryRun(instance.ID) {
		slog.Info("worker pool full, instance deferred to dispatcher", "instanceId", instance.ID)
	}
	return instance.ID, nil
}

// ResumePending re-drives non-terminal instances from their persisted
// record. Called once at host start; steps already in history are not
// re-executed.
func (e *Engine) ResumePending(ctx context.Context) error {
	if e.runCtx == nil {
		return fmt.Errorf("engine not started")
	}
	return e.dispatch(ctx)
}

// tryRun hands an instance to the worker pool without blocking. Returns
// false when the pool is full. The inflight set guards against the same
// instance being driven twice.
func (e *Engine) tryRun(id uuid.UUID) bool {
	e.mu.Lock()
	if _, running := e.inflight[id]; running {
		e.mu.Unlock()
		return true
	}
	e.inflight[id] = struct{}{}
	e.mu.Unlock()

	started := e.group.TryGo(func() error {
		defer func() {
			e.mu.Lock()
			delete(e.inflight, id)
			e.mu.Unlock()
		}()
		e.drive(e.runCtx, id)
		return nil
	})
	if !started {
		e.mu.Lock()
		delete(e.inflight, id)
		e.mu.Unlock()
	}
	return started
}

// dispatch offers every resumable instance to the worker pool
func (e *Engine) dispatch(ctx context.Context) error {
	instances, err := e.repository.ListResumable(ctx)
	if err != nil {
		return fmt.Errorf("failed to list resumable instances: %w", err)
	}

	for _, instance := range instances {
		if !e.tryRun(instance.ID) {
			// Pool is full; the next sweep retries in creation order
			return nil
		}
	}
	return nil
}

func (e *Engine) dispatchLoop() {
	defer close(e.dispatchDone)
	ticker := time.NewTicker(e.dispatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.runCtx.Done():
			return
		case <-ticker.C:
			if err := e.dispatch(e.runCtx); err != nil {
				slog.Error("Dispatcher sweep failed", "err", err)
			}
		}
	}
}

// Instance returns the current record of an instance
func (e *Engine) Instance(ctx context.Context, id uuid.UUID) (Instance, error) {
	return e.repository.Get(ctx, id)
}

// drive runs one instance to a terminal state. An activity error marks the
// instance Failed with the cause recorded; it is never dropped.
func (e *Engine) drive(ctx context.Context, id uuid.UUID) {
	instance, err := e.repository.Get(ctx, id)
	if err != nil {
		slog.Error("Failed loading instance", "instanceId", id, "err", err)
		return
	}
	if instance.Status.Terminal() {
		return
	}

	orchestrator := e.orchestrators[instance.Name]
	if orchestrator == nil {
		e.finish(ctx, &instance, "", oboerrors.Newf(oboerrors.ErrCodeOrchestrationFailed, "unknown orchestrator: %s", instance.Name))
		return
	}

	instance.Status = StatusRunning
	instance.UpdatedAt = time.Now().UTC()
	if err := e.repository.Update(ctx, instance); err != nil {
		slog.Error("Failed marking instance running", "instanceId", id, "err", err)
		return
	}

	octx := &Context{
		ctx:      ctx,
		engine:   e,
		instance: &instance,
	}
	output, err := orchestrator(octx)
	e.finish(ctx, &instance, output, err)
}

func (e *Engine) finish(ctx context.Context, instance *Instance, output string, err error) {
	if err != nil {
		instance.Status = StatusFailed
		instance.Error = err.Error()
		slog.Error("Orchestration instance failed", "instanceId", instance.ID, "err", err)
	} else {
		instance.Status = StatusCompleted
		instance.Output = output
		slog.Info("orchestration instance completed", "instanceId", instance.ID)
	}
	instance.UpdatedAt = time.Now().UTC()

	// Persist the terminal state even when ctx was canceled mid-run
	if uerr := e.repository.Update(context.WithoutCancel(ctx), *instance); uerr != nil {
		slog.Error("Failed persisting terminal state", "instanceId", instance.ID, "err", uerr)
	}
}
