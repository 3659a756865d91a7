package machine

import (
	"sync"
	"sync/atomic"

	log "github.com/rs/zerolog"

	"github.com/maxgio92/crashenv/pkg/arch"
	"github.com/maxgio92/crashenv/pkg/thread"
)

const (
	// MaxCapturedThreads is the capacity of the thread list of a crashed
	// context.
	MaxCapturedThreads = 100

	// MaxReservedThreads is the capacity of the reserved thread set.
	MaxReservedThreads = 10
)

// Process is the OS side of the machine context: the target process
// threads and memory.
type Process interface {
	// Self is the thread the capture runs on behalf of.
	Self() thread.Thread
	Threads() ([]thread.Thread, error)
	Suspend(thread.Thread) error
	Resume(thread.Thread) error
	Registers(thread.Thread, *arch.Block) error
	ReadMemory(address uint64, dst []byte) error
}

// Environment holds the process scoped state of the capture: the process
// backend, its CPU and the reserved thread set. There is one per target
// process.
type Environment struct {
	process Process
	cpu     arch.CPU
	logger  log.Logger

	reserved reservedSet
}

type EnvironmentOpt func(*Environment)

func WithProcess(process Process) EnvironmentOpt {
	return func(e *Environment) {
		e.process = process
	}
}

func WithCPU(cpu arch.CPU) EnvironmentOpt {
	return func(e *Environment) {
		e.cpu = cpu
	}
}

func WithLogger(logger log.Logger) EnvironmentOpt {
	return func(e *Environment) {
		e.logger = logger
	}
}

func NewEnvironment(opts ...EnvironmentOpt) *Environment {
	e := &Environment{logger: log.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("component", "machine").Logger()
	if e.cpu == nil {
		cpu, err := arch.Native()
		if err != nil {
			e.logger.Warn().Err(err).Msg("register access disabled")
		}
		e.cpu = cpu
	}

	return e
}

func (e *Environment) CPU() arch.CPU {
	return e.cpu
}

// reservedSet is append only. Readers load the count and then read the
// entries below it without locking.
type reservedSet struct {
	mu      sync.Mutex
	threads [MaxReservedThreads]thread.Thread
	count   atomic.Int32
}

// AddReservedThread excludes t from SuspendEnvironment and
// ResumeEnvironment for the lifetime of the environment. Threads beyond
// MaxReservedThreads are logged and ignored.
func (e *Environment) AddReservedThread(t thread.Thread) {
	e.reserved.mu.Lock()
	defer e.reserved.mu.Unlock()

	n := e.reserved.count.Load()
	if n >= MaxReservedThreads {
		e.logger.Error().Int("thread", int(t)).Int("max", MaxReservedThreads).
			Msg("too many reserved threads, ignoring")
		return
	}
	e.reserved.threads[n] = t
	e.reserved.count.Store(n + 1)
}

func (e *Environment) ReservedThreads() []thread.Thread {
	n := e.reserved.count.Load()
	out := make([]thread.Thread, n)
	copy(out, e.reserved.threads[:n])
	return out
}

func (e *Environment) isReserved(t thread.Thread) bool {
	n := e.reserved.count.Load()
	for i := int32(0); i < n; i++ {
		if e.reserved.threads[i] == t {
			return true
		}
	}
	return false
}

// Threads returns the threads of the process, at most
// MaxCapturedThreads of them. keep is retained when the list is
// truncated.
func (e *Environment) Threads(keep thread.Thread) []thread.Thread {
	var buf [MaxCapturedThreads]thread.Thread
	n := e.captureThreads(&buf, keep)
	out := make([]thread.Thread, n)
	copy(out, buf[:n])
	return out
}

func (e *Environment) captureThreads(dst *[MaxCapturedThreads]thread.Thread, keep thread.Thread) int {
	if e.process == nil {
		return 0
	}
	threads, err := e.process.Threads()
	if err != nil {
		e.logger.Error().Err(err).Msg("cannot enumerate threads")
		return 0
	}

	n := copy(dst[:], threads)
	if len(threads) <= MaxCapturedThreads {
		return n
	}
	e.logger.Warn().Int("threads", len(threads)).Int("max", MaxCapturedThreads).
		Msg("too many threads, truncating the thread list")

	if keep == thread.Invalid {
		return n
	}
	for _, t := range dst[:n] {
		if t == keep {
			return n
		}
	}
	for _, t := range threads[n:] {
		if t == keep {
			dst[n-1] = keep
			break
		}
	}
	return n
}
