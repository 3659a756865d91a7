package threadcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maxgio92/crashenv/pkg/thread"
)

// MockSource implements the Source interface for testing purposes.
type MockSource struct {
	mock.Mock
}

func (m *MockSource) Threads() ([]thread.Thread, error) {
	args := m.Called()
	threads, _ := args.Get(0).([]thread.Thread)
	return threads, args.Error(1)
}

func (m *MockSource) Name(t thread.Thread) (string, error) {
	args := m.Called(t)
	return args.String(0), args.Error(1)
}

func (m *MockSource) QueueName(t thread.Thread) (string, error) {
	args := m.Called(t)
	return args.String(0), args.Error(1)
}

func (m *MockSource) LocalID(t thread.Thread) (uint64, error) {
	args := m.Called(t)
	return args.Get(0).(uint64), args.Error(1)
}

// growingSource returns a different number of threads on every call.
type growingSource struct {
	calls atomic.Int64
}

func (s *growingSource) Threads() ([]thread.Thread, error) {
	n := int(s.calls.Add(1)%7) + 1
	threads := make([]thread.Thread, n)
	for i := range threads {
		threads[i] = thread.Thread(100 + i)
	}
	return threads, nil
}

func (s *growingSource) Name(t thread.Thread) (string, error) {
	return fmt.Sprintf("worker-%d", t), nil
}

func (s *growingSource) QueueName(thread.Thread) (string, error) {
	return "futex_wait_queue", nil
}

func (s *growingSource) LocalID(t thread.Thread) (uint64, error) {
	return uint64(t) - 99, nil
}

func testLogger(t *testing.T) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
}

func TestCache_Refresh(t *testing.T) {
	source := new(MockSource)
	source.On("Threads").Return([]thread.Thread{10, 11}, nil)
	source.On("Name", thread.Thread(10)).Return("main", nil)
	source.On("Name", thread.Thread(11)).Return("", errors.New("gone"))
	source.On("LocalID", thread.Thread(10)).Return(uint64(1), nil)
	source.On("LocalID", thread.Thread(11)).Return(uint64(2), nil)
	source.On("QueueName", thread.Thread(10)).Return("ep_poll", nil)
	source.On("QueueName", thread.Thread(11)).Return("", thread.ErrNoQueueName)

	c := New(source, WithLogger(testLogger(t)))
	require.Empty(t, c.AllThreads())

	require.NoError(t, c.Refresh())
	require.Equal(t, []thread.Thread{10, 11}, c.AllThreads())

	name, ok := c.ThreadName(10)
	require.True(t, ok)
	require.Equal(t, "main", name)

	_, ok = c.ThreadName(11)
	require.False(t, ok, "a failed name lookup leaves the entry empty")

	_, ok = c.ThreadName(12)
	require.False(t, ok)

	id, ok := c.LocalID(11)
	require.True(t, ok)
	require.Equal(t, uint64(2), id)

	// Queue names are not searched by default.
	_, ok = c.QueueName(10)
	require.False(t, ok)
	source.AssertNotCalled(t, "QueueName", mock.Anything)

	c.SetSearchQueueNames(true)
	require.NoError(t, c.Refresh())
	queue, ok := c.QueueName(10)
	require.True(t, ok)
	require.Equal(t, "ep_poll", queue)
	_, ok = c.QueueName(11)
	require.False(t, ok)

	require.Equal(t, []Entry{
		{Thread: 10, LocalID: 1, Name: "main", QueueName: "ep_poll"},
		{Thread: 11, LocalID: 2},
	}, c.Entries())
}

func TestCache_RefreshFailureKeepsGeneration(t *testing.T) {
	source := new(MockSource)
	source.On("Threads").Return([]thread.Thread{10}, nil).Once()
	source.On("Threads").Return(nil, errors.New("no such process"))
	source.On("Name", thread.Thread(10)).Return("main", nil)
	source.On("LocalID", thread.Thread(10)).Return(uint64(1), nil)

	c := New(source, WithLogger(testLogger(t)))
	require.NoError(t, c.Refresh())
	require.Error(t, c.Refresh())

	require.Equal(t, []thread.Thread{10}, c.AllThreads())
	name, ok := c.ThreadName(10)
	require.True(t, ok)
	require.Equal(t, "main", name)
}

func TestCache_ShrinkThenGrow(t *testing.T) {
	source := new(MockSource)
	source.On("Threads").Return([]thread.Thread{1, 2, 3}, nil).Once()
	source.On("Threads").Return([]thread.Thread{1}, nil).Once()
	source.On("Threads").Return([]thread.Thread{1, 2, 3, 4}, nil).Once()
	for _, th := range []thread.Thread{1, 2, 3, 4} {
		source.On("Name", th).Return(fmt.Sprintf("t%d", th), nil)
		source.On("LocalID", th).Return(uint64(th), nil)
	}

	c := New(source, WithLogger(testLogger(t)))
	require.NoError(t, c.Refresh())
	first := c.Entries()

	require.NoError(t, c.Refresh())
	require.Equal(t, []thread.Thread{1}, c.AllThreads())
	_, ok := c.ThreadName(3)
	require.False(t, ok)

	require.NoError(t, c.Refresh())
	require.Len(t, c.Entries(), 4)
	name, ok := c.ThreadName(4)
	require.True(t, ok)
	require.Equal(t, "t4", name)

	// Copies taken from an older generation stay intact.
	require.Len(t, first, 3)
	require.Equal(t, "t3", first[2].Name)
}

func TestCache_GenerationsHaveEqualLengths(t *testing.T) {
	c := New(&growingSource{})
	c.SetSearchQueueNames(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			_ = c.Refresh()
		}
	}()

	for n := 0; n < 10000; n++ {
		gen := c.current.Load()
		n := len(gen.threads)
		require.Len(t, gen.localIDs, n)
		require.Len(t, gen.names, n)
		require.Len(t, gen.queues, n)
		for i, th := range gen.threads {
			require.Equal(t, fmt.Sprintf("worker-%d", th), gen.names[i])
		}
	}
	cancel()
	wg.Wait()
}

func TestCache_FreezeUnfreeze(t *testing.T) {
	c := New(&growingSource{}, WithLogger(testLogger(t)))

	c.Freeze()
	c.Unfreeze()
	require.Zero(t, c.FreezeCount())

	c.Freeze()
	c.Freeze()
	require.Equal(t, int32(2), c.FreezeCount())
	c.Unfreeze()
	c.Unfreeze()
	require.Zero(t, c.FreezeCount())

	// Unbalanced unfreezes are clamped.
	c.Unfreeze()
	c.Unfreeze()
	require.Zero(t, c.FreezeCount())
	c.Freeze()
	require.Equal(t, int32(1), c.FreezeCount())
}

func TestCache_ConcurrentUnbalancedUnfreeze(t *testing.T) {
	c := New(&growingSource{}, WithLogger(testLogger(t)), WithFreezeSettle(0))

	var wg sync.WaitGroup
	for n := 0; n < 100; n++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Freeze()
		}()
		go func() {
			defer wg.Done()
			c.Unfreeze()
		}()
	}
	wg.Wait()
	require.GreaterOrEqual(t, c.FreezeCount(), int32(0))

	for c.FreezeCount() > 0 {
		c.Unfreeze()
	}
	c.Freeze()
	require.Equal(t, int32(1), c.FreezeCount())
}

func TestCache_WorkerQuickPolls(t *testing.T) {
	source := &growingSource{}
	c := New(source,
		WithLogger(testLogger(t)),
		WithStartupDelay(time.Millisecond),
		WithQuickPolls(DefaultQuickPolls, time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Start(ctx, time.Hour)

	// The first refresh and one after each quick poll, then the worker
	// sleeps for the configured interval.
	require.Eventually(t, func() bool {
		return source.calls.Load() == DefaultQuickPolls+1
	}, time.Second, time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	require.EqualValues(t, DefaultQuickPolls+1, source.calls.Load())
}

func TestCache_Worker(t *testing.T) {
	source := &growingSource{}
	c := New(source,
		WithLogger(testLogger(t)),
		WithStartupDelay(time.Millisecond),
		WithQuickPolls(4, time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Start(ctx, time.Millisecond)
	c.Start(ctx, time.Hour)

	require.Eventually(t, func() bool {
		return source.calls.Load() > 8
	}, time.Second, time.Millisecond)
	require.NotEmpty(t, c.AllThreads())

	c.Freeze()
	// Let a refresh already past the gate complete.
	time.Sleep(20 * time.Millisecond)
	frozen := source.calls.Load()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, frozen, source.calls.Load())

	c.Unfreeze()
	require.Eventually(t, func() bool {
		return source.calls.Load() > frozen
	}, time.Second, time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)
	stopped := source.calls.Load()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, stopped, source.calls.Load())
}
