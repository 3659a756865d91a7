//go:build linux

package ptrace

import (
	"time"

	log "github.com/rs/zerolog"
)

const DefaultPollInterval = 10 * time.Millisecond

type TracerOpt func(*Tracer)

func WithLogger(logger log.Logger) TracerOpt {
	return func(t *Tracer) {
		t.logger = logger
	}
}

// WithProcRoot overrides the procfs mount point.
func WithProcRoot(root string) TracerOpt {
	return func(t *Tracer) {
		t.procRoot = root
	}
}

// WithPollInterval sets how often WaitFault polls for trace events.
func WithPollInterval(d time.Duration) TracerOpt {
	return func(t *Tracer) {
		t.pollInterval = d
	}
}
