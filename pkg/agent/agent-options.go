package agent

import (
	"io"
	"time"

	log "github.com/rs/zerolog"

	"github.com/maxgio92/crashenv/pkg/thread"
)

const (
	DefaultThreadPollInterval = 10 * time.Second
	statusRefreshInterval     = time.Second
)

type AgentOptions struct {
	pid int

	// socketPath is the readiness socket. No readiness server is run
	// when empty.
	socketPath string
	// reportPath is the file crash reports are appended to. Reports are
	// written to out when empty.
	reportPath string
	out        io.Writer

	faultPollInterval  time.Duration
	threadPollInterval time.Duration
	maxDepth           int
	queueNames         bool
	reserved           []thread.Thread

	status bool
	logger log.Logger
}

type AgentOpt func(*Agent)

func WithPid(pid int) AgentOpt {
	return func(a *Agent) {
		a.pid = pid
	}
}

func WithSocketPath(path string) AgentOpt {
	return func(a *Agent) {
		a.socketPath = path
	}
}

func WithReportPath(path string) AgentOpt {
	return func(a *Agent) {
		a.reportPath = path
	}
}

func WithOutput(w io.Writer) AgentOpt {
	return func(a *Agent) {
		a.out = w
	}
}

// WithFaultPollInterval sets how often trace events are polled.
func WithFaultPollInterval(d time.Duration) AgentOpt {
	return func(a *Agent) {
		a.faultPollInterval = d
	}
}

// WithThreadPollInterval sets how often thread names are refreshed.
func WithThreadPollInterval(d time.Duration) AgentOpt {
	return func(a *Agent) {
		a.threadPollInterval = d
	}
}

func WithMaxDepth(depth int) AgentOpt {
	return func(a *Agent) {
		a.maxDepth = depth
	}
}

func WithQueueNames(enabled bool) AgentOpt {
	return func(a *Agent) {
		a.queueNames = enabled
	}
}

// WithReservedThreads excludes threads of the target from suspension.
func WithReservedThreads(threads ...thread.Thread) AgentOpt {
	return func(a *Agent) {
		a.reserved = append(a.reserved, threads...)
	}
}

func WithStatus(status bool) AgentOpt {
	return func(a *Agent) {
		a.status = status
	}
}

func WithLogger(logger log.Logger) AgentOpt {
	return func(a *Agent) {
		a.logger = logger
	}
}
