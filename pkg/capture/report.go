package capture

import (
	"syscall"
	"time"

	"github.com/maxgio92/crashenv/pkg/stack"
	"github.com/maxgio92/crashenv/pkg/thread"
)

// Report is the environment captured at a crash or at a snapshot.
type Report struct {
	Pid     int
	Time    time.Time
	Arch    string
	Crashed bool

	// Signal is only set for crash captures.
	Signal *SignalReport
	// Instruction is the faulting instruction of the crashed thread.
	Instruction string

	Threads []ThreadReport
}

type SignalReport struct {
	Signal       syscall.Signal
	Name         string
	Code         int32
	CodeName     string
	FaultAddress uint64
}

type Register struct {
	Name  string
	Value uint64
}

type ThreadReport struct {
	Thread    thread.Thread
	LocalID   uint64
	Name      string
	QueueName string

	Crashed bool
	Current bool
	// StackOverflow is only detected for the crashed thread.
	StackOverflow bool

	Registers          []Register
	ExceptionRegisters []Register

	Frames []stack.Frame
	// Truncated is set when the walk reached the maximum depth.
	Truncated bool

	// Err is set when the thread state could not be read.
	Err string
}

// CrashedThread returns the report of the crashed thread, if any.
func (r *Report) CrashedThread() (*ThreadReport, bool) {
	for i := range r.Threads {
		if r.Threads[i].Crashed {
			return &r.Threads[i], true
		}
	}
	return nil, false
}
