package threadcache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"

	"github.com/maxgio92/crashenv/pkg/thread"
)

const (
	DefaultPollInterval  = 10 * time.Second
	DefaultStartupDelay  = time.Microsecond
	DefaultQuickPolls    = 4
	DefaultQuickInterval = time.Second
	DefaultFreezeSettle  = time.Microsecond
)

// Source is the OS side of the cache.
type Source interface {
	Threads() ([]thread.Thread, error)
	Name(thread.Thread) (string, error)
	QueueName(thread.Thread) (string, error)
	LocalID(thread.Thread) (uint64, error)
}

// generation is one consistent snapshot of the tables. Index i of every
// slice refers to the same thread. A generation is never modified once
// installed.
type generation struct {
	threads  []thread.Thread
	localIDs []uint64
	names    []string
	queues   []string
}

var emptyGeneration = &generation{}

// Cache keeps recently fresh thread metadata so that crash time code can
// read thread names without querying the OS.
type Cache struct {
	source Source
	logger log.Logger

	startupDelay  time.Duration
	quickPolls    int
	quickInterval time.Duration
	freezeSettle  time.Duration

	current          atomic.Pointer[generation]
	freezeCount      atomic.Int32
	searchQueueNames atomic.Bool
	started          sync.Once
}

type CacheOpt func(*Cache)

func WithLogger(logger log.Logger) CacheOpt {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithStartupDelay sets how long the worker waits before the first refresh.
func WithStartupDelay(d time.Duration) CacheOpt {
	return func(c *Cache) {
		c.startupDelay = d
	}
}

// WithQuickPolls sets how many cycles after start use interval instead of
// the configured poll interval.
func WithQuickPolls(count int, interval time.Duration) CacheOpt {
	return func(c *Cache) {
		c.quickPolls = count
		c.quickInterval = interval
	}
}

// WithFreezeSettle sets how long Freeze waits for an in-flight refresh.
func WithFreezeSettle(d time.Duration) CacheOpt {
	return func(c *Cache) {
		c.freezeSettle = d
	}
}

func New(source Source, opts ...CacheOpt) *Cache {
	c := &Cache{
		source:        source,
		logger:        log.Nop(),
		startupDelay:  DefaultStartupDelay,
		quickPolls:    DefaultQuickPolls,
		quickInterval: DefaultQuickInterval,
		freezeSettle:  DefaultFreezeSettle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "threadcache").Logger()
	c.current.Store(emptyGeneration)

	return c
}

// Start spawns the background refresh worker. Only the first call has an
// effect. The worker stops when ctx is done.
func (c *Cache) Start(ctx context.Context, pollInterval time.Duration) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	c.started.Do(func() {
		c.logger.Debug().Dur("interval", pollInterval).Msg("starting thread cache worker")
		go c.monitor(ctx, pollInterval)
	})
}

func (c *Cache) monitor(ctx context.Context, pollInterval time.Duration) {
	// Let the process finish booting.
	if !sleep(ctx, c.startupDelay) {
		return
	}

	quickPolls := c.quickPolls
	for {
		if c.freezeCount.Load() <= 0 {
			if err := c.Refresh(); err != nil {
				c.logger.Warn().Err(err).Msg("thread cache refresh skipped")
			}
		}

		interval := pollInterval
		// A lot can happen in the first seconds of a process's life.
		if quickPolls > 0 {
			quickPolls--
			interval = c.quickInterval
		}
		if !sleep(ctx, interval) {
			c.logger.Debug().Msg("stopping thread cache worker")
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Refresh builds a new generation from the source and installs it. On
// enumeration failure the current generation is kept.
func (c *Cache) Refresh() error {
	threads, err := c.source.Threads()
	if err != nil {
		return errors.Wrap(err, "error enumerating threads")
	}

	searchQueues := c.searchQueueNames.Load()
	gen := &generation{
		threads:  threads,
		localIDs: make([]uint64, len(threads)),
		names:    make([]string, len(threads)),
		queues:   make([]string, len(threads)),
	}
	for i, t := range threads {
		if name, err := c.source.Name(t); err == nil {
			gen.names[i] = name
		}
		if id, err := c.source.LocalID(t); err == nil {
			gen.localIDs[i] = id
		}
		if searchQueues {
			if queue, err := c.source.QueueName(t); err == nil {
				gen.queues[i] = queue
			}
		}
	}
	c.current.Store(gen)

	return nil
}

// Freeze stops the worker from installing new generations until the
// matching Unfreeze. The first Freeze waits briefly for a refresh in
// progress; it does not guarantee the refresh has finished.
func (c *Cache) Freeze() {
	if c.freezeCount.Add(1) == 1 {
		time.Sleep(c.freezeSettle)
	}
}

func (c *Cache) Unfreeze() {
	if c.freezeCount.Add(-1) < 0 {
		c.logger.Debug().Msg("unbalanced thread cache unfreeze")
		c.freezeCount.Add(1)
	}
}

func (c *Cache) FreezeCount() int32 {
	return c.freezeCount.Load()
}

// SetSearchQueueNames toggles the resolution of queue names on refresh.
func (c *Cache) SetSearchQueueNames(enabled bool) {
	c.searchQueueNames.Store(enabled)
}

// AllThreads returns the threads of the current generation. The slice
// must not be modified.
func (c *Cache) AllThreads() []thread.Thread {
	return c.current.Load().threads
}

func (c *Cache) ThreadName(t thread.Thread) (string, bool) {
	gen := c.current.Load()
	if i := gen.index(t); i >= 0 && gen.names[i] != "" {
		return gen.names[i], true
	}
	return "", false
}

func (c *Cache) QueueName(t thread.Thread) (string, bool) {
	gen := c.current.Load()
	if i := gen.index(t); i >= 0 && gen.queues[i] != "" {
		return gen.queues[i], true
	}
	return "", false
}

// LocalID returns the id the target process itself uses for t.
func (c *Cache) LocalID(t thread.Thread) (uint64, bool) {
	gen := c.current.Load()
	if i := gen.index(t); i >= 0 && gen.localIDs[i] != 0 {
		return gen.localIDs[i], true
	}
	return 0, false
}

// Entry is one row of a generation.
type Entry struct {
	Thread    thread.Thread
	LocalID   uint64
	Name      string
	QueueName string
}

// Entries returns a copy of the current generation.
func (c *Cache) Entries() []Entry {
	gen := c.current.Load()
	entries := make([]Entry, len(gen.threads))
	for i, t := range gen.threads {
		entries[i] = Entry{
			Thread:    t,
			LocalID:   gen.localIDs[i],
			Name:      gen.names[i],
			QueueName: gen.queues[i],
		}
	}
	return entries
}

func (g *generation) index(t thread.Thread) int {
	for i, th := range g.threads {
		if th == t {
			return i
		}
	}
	return -1
}
