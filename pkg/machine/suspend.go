package machine

import (
	"github.com/maxgio92/crashenv/pkg/thread"
)

// Suspended is the result of SuspendEnvironment. It must be passed to
// exactly one ResumeEnvironment.
type Suspended struct {
	threads   []thread.Thread
	suspended []thread.Thread
	valid     bool
}

// Threads returns the threads enumerated at suspension time.
func (s Suspended) Threads() []thread.Thread {
	return s.threads
}

// Suspended returns the threads that were actually suspended.
func (s Suspended) Suspended() []thread.Thread {
	return s.suspended
}

// SuspendEnvironment suspends every thread of the process except the
// current thread and the reserved ones. Failures to suspend single
// threads are logged and skipped.
func (e *Environment) SuspendEnvironment() Suspended {
	s := Suspended{valid: true}
	if e.process == nil {
		e.logger.Error().Msg("no process to suspend")
		return s
	}
	e.logger.Debug().Msg("suspending environment")

	threads, err := e.process.Threads()
	if err != nil {
		e.logger.Error().Err(err).Msg("cannot enumerate threads, nothing suspended")
		return s
	}
	s.threads = threads
	s.suspended = make([]thread.Thread, 0, len(threads))

	self := e.process.Self()
	for _, t := range threads {
		if t == self || e.isReserved(t) {
			continue
		}
		if err := e.process.Suspend(t); err != nil {
			e.logger.Warn().Err(err).Int("thread", int(t)).Msg("cannot suspend thread")
			continue
		}
		s.suspended = append(s.suspended, t)
	}
	e.logger.Debug().Int("suspended", len(s.suspended)).Int("threads", len(threads)).
		Msg("suspend complete")

	return s
}

// ResumeEnvironment resumes the threads suspended by the
// SuspendEnvironment call that returned s.
func (e *Environment) ResumeEnvironment(s Suspended) {
	if !s.valid {
		e.logger.Error().Msg("resume environment without a matching suspend")
		return
	}
	if e.process == nil || len(s.suspended) == 0 {
		return
	}
	e.logger.Debug().Msg("resuming environment")

	for _, t := range s.suspended {
		if err := e.process.Resume(t); err != nil {
			e.logger.Warn().Err(err).Int("thread", int(t)).Msg("cannot resume thread")
		}
	}
	e.logger.Debug().Msg("resume complete")
}
