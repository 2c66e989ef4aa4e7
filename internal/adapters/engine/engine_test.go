package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eleven-am/strand/internal/adapters/events"
	"github.com/eleven-am/strand/internal/adapters/storage"
	"github.com/eleven-am/strand/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(config domain.EngineConfig) (*Engine, *storage.Memory) {
	store := storage.NewMemory()
	bus := events.NewBus(store, nil)
	return NewEngine(config, store, bus, nil), store
}

func fastConfig() domain.EngineConfig {
	return domain.EngineConfig{
		WorkerCount:        4,
		RetryBaseDelay:     time.Millisecond,
		DefaultUnitTimeout: time.Second,
	}
}

func TestEngine_DependencyOrdering(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(fastConfig())

	var mu sync.Mutex
	var order []string
	record := func(id string) UnitFunc {
		return func(ctx context.Context) (interface{}, error) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return id, nil
		}
	}

	results, err := engine.RunGraph(ctx, []GraphStep{
		{ID: "b", Fn: record("b"), DependsOn: []string{"a"}},
		{ID: "a", Fn: record("a")},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err)

	require.Equal(t, []string{"a", "b"}, order)
}

func TestEngine_DependencyFailurePropagates(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(fastConfig())

	var bInvoked atomic.Bool
	results, err := engine.RunGraph(ctx, []GraphStep{
		{ID: "a", Fn: func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("a exploded")
		}},
		{ID: "b", Fn: func(ctx context.Context) (interface{}, error) {
			bInvoked.Store(true)
			return "b", nil
		}, DependsOn: []string{"a"}},
	})
	require.NoError(t, err)

	byID := make(map[string]UnitResult, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}

	require.Error(t, byID["a"].Err)
	require.Error(t, byID["b"].Err)
	assert.True(t, domain.IsDependencyFailed(byID["b"].Err))

	dep, ok := domain.FailedDependency(byID["b"].Err)
	require.True(t, ok)
	assert.Equal(t, "a", dep)

	assert.False(t, bInvoked.Load(), "dependent ran despite failed dependency")
}

func TestEngine_FailureDoesNotCancelSiblings(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(fastConfig())

	results, err := engine.RunGraph(ctx, []GraphStep{
		{ID: "bad", Fn: func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("boom")
		}},
		{ID: "independent", Fn: func(ctx context.Context) (interface{}, error) {
			return "fine", nil
		}},
	})
	require.NoError(t, err)

	byID := make(map[string]UnitResult, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}

	assert.Error(t, byID["bad"].Err)
	assert.NoError(t, byID["independent"].Err)
	assert.Equal(t, "fine", byID["independent"].Result)
}

func TestEngine_RetriesWithBackoff(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(fastConfig())

	var attempts atomic.Int32
	result, err := engine.Schedule(ctx, "flaky", func(ctx context.Context) (interface{}, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return "recovered", nil
	}, ScheduleOptions{Retries: 2})

	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestEngine_ExhaustedRetriesFail(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(fastConfig())

	var attempts atomic.Int32
	_, err := engine.Schedule(ctx, "doomed", func(ctx context.Context) (interface{}, error) {
		attempts.Add(1)
		return nil, errors.New("permanent")
	}, ScheduleOptions{Retries: 2})

	require.Error(t, err)
	assert.Equal(t, int32(3), attempts.Load())

	assert.Len(t, store.Events(domain.EventUnitFailed), 1)
	assert.Empty(t, store.Events(domain.EventUnitCompleted))
}

func TestEngine_NoRetryByDefault(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(fastConfig())

	var attempts atomic.Int32
	_, err := engine.Schedule(ctx, "once", func(ctx context.Context) (interface{}, error) {
		attempts.Add(1)
		return nil, errors.New("boom")
	}, ScheduleOptions{})

	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestEngine_FailedDependencyWinsOverSlowSibling(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(fastConfig())

	_, err := engine.Schedule(ctx, "failer", func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("boom")
	}, ScheduleOptions{})
	require.Error(t, err)

	// "ghost" never settles; the already-failed dependency must still
	// surface instead of a timeout, regardless of list position.
	var invoked atomic.Bool
	_, err = engine.Schedule(ctx, "dependent", func(ctx context.Context) (interface{}, error) {
		invoked.Store(true)
		return nil, nil
	}, ScheduleOptions{
		DependsOn: []string{"ghost", "failer"},
		Timeout:   300 * time.Millisecond,
	})

	require.Error(t, err)
	assert.True(t, domain.IsDependencyFailed(err))
	assert.False(t, domain.IsTimeout(err))

	dep, ok := domain.FailedDependency(err)
	require.True(t, ok)
	assert.Equal(t, "failer", dep)
	assert.False(t, invoked.Load())
}

func TestEngine_LateDependencyFailureSurfacesImmediately(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(fastConfig())

	release := make(chan struct{})
	go engine.Schedule(ctx, "slow", func(ctx context.Context) (interface{}, error) {
		<-release
		return "slow done", nil
	}, ScheduleOptions{})
	go engine.Schedule(ctx, "failer", func(ctx context.Context) (interface{}, error) {
		time.Sleep(10 * time.Millisecond)
		return nil, errors.New("boom")
	}, ScheduleOptions{})

	start := time.Now()
	_, err := engine.Schedule(ctx, "dependent", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, ScheduleOptions{
		DependsOn: []string{"slow", "failer"},
		Timeout:   2 * time.Second,
	})
	close(release)

	require.Error(t, err)
	assert.True(t, domain.IsDependencyFailed(err))
	assert.Less(t, time.Since(start), time.Second, "failure was held behind the unsettled sibling")
}

func TestEngine_BackoffReleasesWorkerSlot(t *testing.T) {
	ctx := context.Background()
	config := fastConfig()
	config.WorkerCount = 1
	config.RetryBaseDelay = 100 * time.Millisecond
	engine, _ := newTestEngine(config)

	retrierStarted := make(chan struct{})
	var sidecarDone atomic.Bool

	done := make(chan struct{})
	go func() {
		defer close(done)
		var first atomic.Bool
		engine.Schedule(ctx, "retrier", func(ctx context.Context) (interface{}, error) {
			if first.CompareAndSwap(false, true) {
				close(retrierStarted)
				return nil, errors.New("transient")
			}
			assert.True(t, sidecarDone.Load(), "retry ran before the sidecar got the slot")
			return "ok", nil
		}, ScheduleOptions{Retries: 1})
	}()

	<-retrierStarted

	// With one worker, the sidecar can only run if the retrier dropped
	// its slot for the backoff sleep.
	_, err := engine.Schedule(ctx, "sidecar", func(ctx context.Context) (interface{}, error) {
		sidecarDone.Store(true)
		return "ok", nil
	}, ScheduleOptions{Timeout: time.Second})
	require.NoError(t, err)
	assert.True(t, sidecarDone.Load())

	<-done
}

func TestEngine_UnscheduledDependencyTimesOut(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(fastConfig())

	start := time.Now()
	_, err := engine.Schedule(ctx, "waiter", func(ctx context.Context) (interface{}, error) {
		return "never", nil
	}, ScheduleOptions{DependsOn: []string{"ghost"}, Timeout: 50 * time.Millisecond})

	require.Error(t, err)
	assert.True(t, domain.IsTimeout(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestEngine_CycleDetection(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(fastConfig())

	noop := func(ctx context.Context) (interface{}, error) { return nil, nil }

	_, err := engine.RunGraph(ctx, []GraphStep{
		{ID: "a", Fn: noop, DependsOn: []string{"b"}},
		{ID: "b", Fn: noop, DependsOn: []string{"a"}},
	})

	require.Error(t, err)
	var domainErr domain.Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrorTypeValidation, domainErr.Type)
}

func TestEngine_DependencyOnSettledUnitIsNotACycle(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(fastConfig())

	_, err := engine.Schedule(ctx, "earlier", func(ctx context.Context) (interface{}, error) {
		return "done", nil
	}, ScheduleOptions{})
	require.NoError(t, err)

	results, err := engine.RunGraph(ctx, []GraphStep{
		{ID: "later", Fn: func(ctx context.Context) (interface{}, error) {
			return "also done", nil
		}, DependsOn: []string{"earlier"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
}

func TestEngine_ConcurrencyBound(t *testing.T) {
	ctx := context.Background()
	config := fastConfig()
	config.WorkerCount = 2
	engine, _ := newTestEngine(config)

	var current, peak atomic.Int32
	work := func(ctx context.Context) (interface{}, error) {
		now := current.Add(1)
		for {
			p := peak.Load()
			if now <= p || peak.CompareAndSwap(p, now) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		return nil, nil
	}

	steps := make([]GraphStep, 6)
	for i := range steps {
		steps[i] = GraphStep{ID: string(rune('a' + i)), Fn: work}
	}

	_, err := engine.RunGraph(ctx, steps)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestEngine_RescheduleReturnsSettledOutcome(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(fastConfig())

	var invocations atomic.Int32
	fn := func(ctx context.Context) (interface{}, error) {
		invocations.Add(1)
		return "first", nil
	}

	result, err := engine.Schedule(ctx, "unit", fn, ScheduleOptions{})
	require.NoError(t, err)
	assert.Equal(t, "first", result)

	again, err := engine.Schedule(ctx, "unit", fn, ScheduleOptions{})
	require.NoError(t, err)
	assert.Equal(t, "first", again)
	assert.Equal(t, int32(1), invocations.Load())
}

func TestEngine_PanicInUnitBecomesError(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(fastConfig())

	_, err := engine.Schedule(ctx, "crashy", func(ctx context.Context) (interface{}, error) {
		panic("nil map write")
	}, ScheduleOptions{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil map write")
}

func TestEngine_ContextCancellationDuringWait(t *testing.T) {
	engine, _ := newTestEngine(fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := engine.Schedule(ctx, "waiter", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, ScheduleOptions{DependsOn: []string{"ghost"}})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_PersistsGraphTopology(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(fastConfig())

	engine.RegisterTask(ctx, "a")
	engine.AddDependency(ctx, "b", "a")

	node := store.Node("b")
	require.NotNil(t, node)
	assert.Contains(t, node.Deps, "a")

	node = store.Node("a")
	require.NotNil(t, node)
	assert.Contains(t, node.Dependents, "b")
}

func TestEngine_EmitsUnitLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(fastConfig())

	_, err := engine.Schedule(ctx, "unit", func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	}, ScheduleOptions{})
	require.NoError(t, err)

	assert.Len(t, store.Events(domain.EventUnitStarted), 1)
	assert.Len(t, store.Events(domain.EventUnitCompleted), 1)
}

func TestEngine_Status(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(fastConfig())

	_, err := engine.Status("missing")
	assert.True(t, domain.IsNotFound(err))

	engine.RegisterTask(ctx, "a")
	status, err := engine.Status("a")
	require.NoError(t, err)
	assert.Equal(t, UnitStatusQueued, status)

	_, err = engine.Schedule(ctx, "a", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, ScheduleOptions{})
	require.NoError(t, err)

	status, err = engine.Status("a")
	require.NoError(t, err)
	assert.Equal(t, UnitStatusCompleted, status)
}
