package orchestration

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitTerminal polls until the instance reaches a terminal state
func waitTerminal(t *testing.T, e *Engine, id uuid.UUID) Instance {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		instance, err := e.Instance(context.Background(), id)
		require.NoError(t, err)
		if instance.Status.Terminal() {
			return instance
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("instance did not reach a terminal state")
	return Instance{}
}

func TestEngine_RunsToCompletion(t *testing.T) {
	repo := NewInMemRepository()
	engine := NewEngine(repo)
	engine.RegisterActivity("greet", func(ctx context.Context, input string) (string, error) {
		return "hello " + input, nil
	})
	engine.RegisterOrchestrator("greeting", func(c *Context) (string, error) {
		return c.CallActivity("greet", c.Input())
	})
	engine.Start(context.Background())
	defer engine.Shutdown()

	id, err := engine.Schedule(context.Background(), "greeting", "world")
	require.NoError(t, err)

	instance := waitTerminal(t, engine, id)
	assert.Equal(t, StatusCompleted, instance.Status)
	assert.Equal(t, "hello world", instance.Output)
	assert.Empty(t, instance.Error)

	require.Len(t, instance.History, 1)
	assert.Equal(t, 0, instance.History[0].Step)
	assert.Equal(t, "greet", instance.History[0].Activity)
	assert.Equal(t, "hello world", instance.History[0].Output)
	assert.Equal(t, 1, instance.NextStep)
}

func TestEngine_ScheduleUnknownOrchestrator(t *testing.T) {
	engine := NewEngine(NewInMemRepository())
	engine.Start(context.Background())
	defer engine.Shutdown()

	_, err := engine.Schedule(context.Background(), "missing", "")
	assert.Error(t, err)
}

func TestEngine_ScheduleBeforeStart(t *testing.T) {
	engine := NewEngine(NewInMemRepository())
	_, err := engine.Schedule(context.Background(), "anything", "")
	assert.Error(t, err)
}

func TestEngine_FailingActivityMarksFailed(t *testing.T) {
	repo := NewInMemRepository()
	engine := NewEngine(repo)
	engine.RegisterActivity("boom", func(ctx context.Context, input string) (string, error) {
		return "", fmt.Errorf("downstream on fire")
	})
	engine.RegisterOrchestrator("fragile", func(c *Context) (string, error) {
		return c.CallActivity("boom", c.Input())
	})
	engine.Start(context.Background())
	defer engine.Shutdown()

	id, err := engine.Schedule(context.Background(), "fragile", "")
	require.NoError(t, err)

	instance := waitTerminal(t, engine, id)
	assert.Equal(t, StatusFailed, instance.Status)
	assert.Contains(t, instance.Error, "downstream on fire")

	// The failed step is recorded, not dropped
	require.Len(t, instance.History, 1)
	assert.Equal(t, "boom", instance.History[0].Activity)
	assert.Contains(t, instance.History[0].Error, "downstream on fire")
}

func TestEngine_ResumeDoesNotReExecuteRecordedSteps(t *testing.T) {
	repo := NewInMemRepository()

	// A run that crashed after persisting step 0 but before finishing
	id := uuid.New()
	now := time.Now().UTC()
	require.NoError(t, repo.Create(context.Background(), Instance{
		ID:     id,
		Name:   "twostep",
		Status: StatusRunning,
		Input:  "in",
		History: []StepResult{
			{Step: 0, Activity: "count", Output: "first", CompletedAt: now},
		},
		NextStep:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}))

	var executions int64
	engine := NewEngine(repo)
	engine.RegisterActivity("count", func(ctx context.Context, input string) (string, error) {
		atomic.AddInt64(&executions, 1)
		return "second", nil
	})
	engine.RegisterOrchestrator("twostep", func(c *Context) (string, error) {
		a, err := c.CallActivity("count", c.Input())
		if err != nil {
			return "", err
		}
		b, err := c.CallActivity("count", a)
		if err != nil {
			return "", err
		}
		return a + "+" + b, nil
	})
	engine.Start(context.Background())
	defer engine.Shutdown()

	require.NoError(t, engine.ResumePending(context.Background()))

	instance := waitTerminal(t, engine, id)
	assert.Equal(t, StatusCompleted, instance.Status)
	// Step 0 came from history, only step 1 ran
	assert.Equal(t, int64(1), atomic.LoadInt64(&executions))
	assert.Equal(t, "first+second", instance.Output)
	assert.Len(t, instance.History, 2)
}

func TestEngine_ScheduleDoesNotBlockWhenPoolFull(t *testing.T) {
	repo := NewInMemRepository()
	release := make(chan struct{})
	engine := NewEngine(repo, WithMaxConcurrent(1), WithDispatchInterval(10*time.Millisecond))
	engine.RegisterActivity("wait", func(ctx context.Context, input string) (string, error) {
		select {
		case <-release:
			return "done " + input, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	engine.RegisterOrchestrator("slow", func(c *Context) (string, error) {
		return c.CallActivity("wait", c.Input())
	})
	engine.Start(context.Background())
	defer engine.Shutdown()

	first, err := engine.Schedule(context.Background(), "slow", "a")
	require.NoError(t, err)

	// The only worker is now occupied; scheduling must still return promptly
	start := time.Now()
	second, err := engine.Schedule(context.Background(), "slow", "b")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	deferred, err := engine.Instance(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, deferred.Status)

	// Once the pool frees up, the dispatcher drives the deferred instance
	close(release)
	assert.Equal(t, StatusCompleted, waitTerminal(t, engine, first).Status)
	assert.Equal(t, StatusCompleted, waitTerminal(t, engine, second).Status)
}

func TestEngine_ResumeSkipsTerminalInstances(t *testing.T) {
	repo := NewInMemRepository()
	now := time.Now().UTC()
	require.NoError(t, repo.Create(context.Background(), Instance{
		ID:        uuid.New(),
		Name:      "done",
		Status:    StatusCompleted,
		Output:    "already",
		CreatedAt: now,
		UpdatedAt: now,
	}))

	var executions int64
	engine := NewEngine(repo)
	engine.RegisterActivity("noop", func(ctx context.Context, input string) (string, error) {
		atomic.AddInt64(&executions, 1)
		return "", nil
	})
	engine.RegisterOrchestrator("done", func(c *Context) (string, error) {
		return c.CallActivity("noop", "")
	})
	engine.Start(context.Background())

	require.NoError(t, engine.ResumePending(context.Background()))
	engine.Shutdown()

	assert.Equal(t, int64(0), atomic.LoadInt64(&executions))
}

func TestEngine_HistoryMismatchFailsInstance(t *testing.T) {
	repo := NewInMemRepository()

	id := uuid.New()
	now := time.Now().UTC()
	require.NoError(t, repo.Create(context.Background(), Instance{
		ID:     id,
		Name:   "renamed",
		Status: StatusRunning,
		History: []StepResult{
			{Step: 0, Activity: "oldname", Output: "x", CompletedAt: now},
		},
		NextStep:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}))

	engine := NewEngine(repo)
	engine.RegisterActivity("newname", func(ctx context.Context, input string) (string, error) {
		return "", nil
	})
	engine.RegisterOrchestrator("renamed", func(c *Context) (string, error) {
		return c.CallActivity("newname", c.Input())
	})
	engine.Start(context.Background())
	defer engine.Shutdown()

	require.NoError(t, engine.ResumePending(context.Background()))

	instance := waitTerminal(t, engine, id)
	assert.Equal(t, StatusFailed, instance.Status)
	assert.Contains(t, instance.Error, "history mismatch")
}
