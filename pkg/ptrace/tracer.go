//go:build linux

package ptrace

import (
	"context"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/maxgio92/crashenv/pkg/arch"
	"github.com/maxgio92/crashenv/pkg/machine"
	siginfopkg "github.com/maxgio92/crashenv/pkg/siginfo"
	"github.com/maxgio92/crashenv/pkg/thread"
)

// tracee is the tracer side state of one thread.
type tracee struct {
	stopped bool
	// pending is the signal to inject when the thread is resumed.
	pending syscall.Signal
}

// Tracer traces every thread of one process. The kernel binds a tracee
// to the OS thread that attached it, so all the ptrace requests run on a
// single goroutine locked to its OS thread.
//
// Tracer implements machine.Process: the current thread is the thread
// stopped by the last fault returned by WaitFault.
type Tracer struct {
	pid          int
	procRoot     string
	pollInterval time.Duration
	logger       log.Logger

	procfs *thread.ProcFS
	mem    *os.File

	requests  chan func()
	done      chan struct{}
	closeOnce sync.Once

	// Only accessed by the ptrace goroutine.
	tracees map[int]*tracee

	current atomic.Int64
}

func NewTracer(pid int, opts ...TracerOpt) (*Tracer, error) {
	t := &Tracer{
		pid:          pid,
		pollInterval: DefaultPollInterval,
		logger:       log.Nop(),
		tracees:      make(map[int]*tracee),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With().Str("component", "ptrace").Int("pid", pid).Logger()

	var procOpts []thread.ProcFSOption
	if t.procRoot != "" {
		procOpts = append(procOpts, thread.WithProcRoot(t.procRoot))
	}
	procfs, err := thread.NewProcFS(pid, procOpts...)
	if err != nil {
		return nil, err
	}
	t.procfs = procfs

	return t, nil
}

// Init opens the process memory and starts the ptrace goroutine.
func (t *Tracer) Init() error {
	mem, err := os.Open(t.procfs.Path("mem"))
	if err != nil {
		return errors.Wrap(err, "error opening process memory")
	}
	t.mem = mem

	t.requests = make(chan func())
	t.done = make(chan struct{})
	started := make(chan struct{})
	go t.serve(started)
	<-started

	return nil
}

func (t *Tracer) serve(started chan struct{}) {
	// Never unlocked: the OS thread exits with the goroutine, which
	// detaches whatever is still traced.
	runtime.LockOSThread()
	close(started)

	for {
		select {
		case <-t.done:
			return
		case req := <-t.requests:
			req()
		}
	}
}

// do runs f on the ptrace goroutine.
func (t *Tracer) do(f func() error) error {
	if t.requests == nil {
		return ErrTracerNotInit
	}
	errCh := make(chan error, 1)
	select {
	case t.requests <- func() { errCh <- f() }:
	case <-t.done:
		return ErrTracerClosed
	}
	return <-errCh
}

func (t *Tracer) Pid() int {
	return t.pid
}

// ProcFS returns the procfs reader of the traced process.
func (t *Tracer) ProcFS() *thread.ProcFS {
	return t.procfs
}

// Seize attaches to every thread of the process without stopping them.
// Threads created afterwards are traced automatically.
func (t *Tracer) Seize() error {
	return t.do(func() error {
		// Threads can be spawned while attaching: repeat until a pass
		// finds nothing new.
		for {
			threads, err := t.procfs.Threads()
			if err != nil {
				return errors.Wrap(err, "error listing threads")
			}
			seized := 0
			for _, th := range threads {
				tid := int(th)
				if _, ok := t.tracees[tid]; ok {
					continue
				}
				if err := seize(tid); err != nil {
					if errors.Is(err, unix.ESRCH) {
						continue
					}
					return errors.Wrapf(err, "error seizing thread %d", tid)
				}
				t.tracees[tid] = &tracee{}
				seized++
			}
			if seized == 0 {
				break
			}
		}
		if len(t.tracees) == 0 {
			return ErrProcessExited
		}
		t.logger.Debug().Int("threads", len(t.tracees)).Msg("process seized")

		return nil
	})
}

// WaitFault waits until a thread of the process is stopped by a fatal
// signal and returns its signal delivery context. Other events are
// handled and the threads resumed. The faulting thread stays stopped
// until Deliver or Detach.
func (t *Tracer) WaitFault(ctx context.Context) (*machine.SignalContext, error) {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		var sc *machine.SignalContext
		err := t.do(func() error {
			var err error
			sc, err = t.poll()
			return err
		})
		if err != nil {
			return nil, err
		}
		if sc != nil {
			t.current.Store(int64(sc.Thread))
			return sc, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// poll drains the pending trace events. It returns a context on the
// first fatal signal.
func (t *Tracer) poll() (*machine.SignalContext, error) {
	for {
		var ws unix.WaitStatus
		tid, err := unix.Wait4(-1, &ws, unix.WALL|unix.WNOHANG, nil)
		if err != nil {
			if errors.Is(err, unix.ECHILD) {
				return nil, ErrProcessExited
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return nil, errors.Wrap(err, "error waiting for trace events")
		}
		if tid <= 0 {
			return nil, nil
		}

		sc, err := t.handle(tid, ws)
		if err != nil || sc != nil {
			return sc, err
		}
	}
}

func (t *Tracer) handle(tid int, ws unix.WaitStatus) (*machine.SignalContext, error) {
	switch {
	case ws.Exited() || ws.Signaled():
		delete(t.tracees, tid)
		t.logger.Debug().Int("thread", tid).Msg("thread exited")
		if tid == t.pid || len(t.tracees) == 0 {
			return nil, ErrProcessExited
		}
		return nil, nil
	case !ws.Stopped():
		return nil, nil
	}

	tr, ok := t.tracees[tid]
	if !ok {
		// A new thread can report its first stop before the clone event
		// of its parent.
		tr = &tracee{}
		t.tracees[tid] = tr
	}
	sig := ws.StopSignal()

	switch event(ws) {
	case unix.PTRACE_EVENT_CLONE:
		if msg, err := unix.PtraceGetEventMsg(tid); err == nil {
			if _, ok := t.tracees[int(msg)]; !ok {
				t.tracees[int(msg)] = &tracee{}
			}
			t.logger.Debug().Int("thread", int(msg)).Msg("new thread traced")
		}
		return nil, t.cont(tid, tr, 0)
	case unix.PTRACE_EVENT_STOP:
		if sig == unix.SIGTRAP {
			// Interrupt, or the first stop of a new thread.
			return nil, t.cont(tid, tr, 0)
		}
		// Group stop: keep it stopped the way it would be untraced.
		if err := listen(tid); err != nil && !errors.Is(err, unix.ESRCH) {
			return nil, errors.Wrapf(err, "error listening on thread %d", tid)
		}
		return nil, nil
	case 0:
	default:
		return nil, t.cont(tid, tr, 0)
	}

	// Signal delivery stop.
	if !siginfopkg.IsFatal(sig) {
		return nil, t.cont(tid, tr, sig)
	}
	tr.stopped = true
	tr.pending = sig

	sc := &machine.SignalContext{
		Thread: thread.Thread(tid),
		Signal: sig,
	}
	si, err := getSiginfo(tid)
	if err != nil {
		t.logger.Warn().Err(err).Int("thread", tid).Msg("cannot read signal info")
	} else {
		sc.Code = si.Code
		setFaultAddress(&sc.Registers, si.Addr)
	}
	if err := t.registers(tid, &sc.Registers); err != nil {
		t.logger.Warn().Err(err).Int("thread", tid).Msg("cannot read registers of the faulting thread")
	}
	name, _ := siginfopkg.SignalName(sig)
	t.logger.Info().Int("thread", tid).Str("signal", name).Int32("code", sc.Code).Msg("fatal signal")

	return sc, nil
}

func (t *Tracer) cont(tid int, tr *tracee, sig syscall.Signal) error {
	tr.stopped = false
	tr.pending = 0
	if err := unix.PtraceCont(tid, int(sig)); err != nil && !errors.Is(err, unix.ESRCH) {
		return errors.Wrapf(err, "error continuing thread %d", tid)
	}
	return nil
}

// Deliver resumes the faulting thread of sc with its signal, so that the
// process handles or dies of it as it would untraced.
func (t *Tracer) Deliver(sc *machine.SignalContext) error {
	if sc == nil {
		return nil
	}
	defer t.current.Store(0)

	return t.do(func() error {
		tr, ok := t.tracees[int(sc.Thread)]
		if !ok {
			return errors.Wrapf(ErrThreadNotTraced, "%d", sc.Thread)
		}
		return t.cont(int(sc.Thread), tr, sc.Signal)
	})
}

// Self implements machine.Process.
func (t *Tracer) Self() thread.Thread {
	return thread.Thread(t.current.Load())
}

// Threads implements machine.Process.
func (t *Tracer) Threads() ([]thread.Thread, error) {
	return t.procfs.Threads()
}

// Suspend implements machine.Process. Suspending an already stopped
// thread succeeds.
func (t *Tracer) Suspend(th thread.Thread) error {
	tid := int(th)
	return t.do(func() error {
		tr, ok := t.tracees[tid]
		if !ok {
			if err := seize(tid); err != nil {
				return errors.Wrapf(err, "error seizing thread %d", tid)
			}
			tr = &tracee{}
			t.tracees[tid] = tr
		}
		if tr.stopped {
			return nil
		}
		if err := unix.PtraceInterrupt(tid); err != nil {
			return errors.Wrapf(err, "error interrupting thread %d", tid)
		}
		return t.waitStop(tid, tr)
	})
}

// waitStop waits for tid to stop. A signal reported instead of the
// interrupt is kept pending for Resume.
func (t *Tracer) waitStop(tid int, tr *tracee) error {
	for {
		var ws unix.WaitStatus
		_, err := unix.Wait4(tid, &ws, unix.WALL, nil)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return errors.Wrapf(err, "error waiting for thread %d", tid)
		}
		switch {
		case ws.Exited() || ws.Signaled():
			delete(t.tracees, tid)
			return errors.Wrapf(unix.ESRCH, "thread %d exited", tid)
		case !ws.Stopped():
			continue
		}

		tr.stopped = true
		switch event(ws) {
		case 0:
			tr.pending = ws.StopSignal()
		case unix.PTRACE_EVENT_CLONE:
			if msg, err := unix.PtraceGetEventMsg(tid); err == nil {
				if _, ok := t.tracees[int(msg)]; !ok {
					t.tracees[int(msg)] = &tracee{}
				}
			}
		}
		return nil
	}
}

// Resume implements machine.Process.
func (t *Tracer) Resume(th thread.Thread) error {
	tid := int(th)
	return t.do(func() error {
		tr, ok := t.tracees[tid]
		if !ok {
			return errors.Wrapf(ErrThreadNotTraced, "%d", tid)
		}
		if !tr.stopped {
			return nil
		}
		return t.cont(tid, tr, tr.pending)
	})
}

// Registers implements machine.Process. The thread must be stopped.
func (t *Tracer) Registers(th thread.Thread, dst *arch.Block) error {
	return t.do(func() error {
		return t.registers(int(th), dst)
	})
}

func (t *Tracer) registers(tid int, dst *arch.Block) error {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(tid, &regs); err != nil {
		return errors.Wrapf(err, "error reading registers of thread %d", tid)
	}
	fillBlock(dst, &regs)
	return nil
}

// ReadMemory implements machine.Process and stack.MemoryReader.
func (t *Tracer) ReadMemory(address uint64, dst []byte) error {
	if t.mem == nil {
		return ErrTracerNotInit
	}
	n, err := t.mem.ReadAt(dst, int64(address))
	if err != nil {
		return errors.Wrapf(err, "error reading memory at %#x", address)
	}
	if n < len(dst) {
		return errors.Wrapf(ErrShortRead, "%#x", address)
	}
	return nil
}

// Detach stops tracing every thread. Stopped threads are resumed with
// their pending signal.
func (t *Tracer) Detach() error {
	return t.do(func() error {
		for tid, tr := range t.tracees {
			if !tr.stopped {
				if err := unix.PtraceInterrupt(tid); err != nil {
					delete(t.tracees, tid)
					continue
				}
				if err := t.waitStop(tid, tr); err != nil {
					continue
				}
			}
			if err := detach(tid, tr.pending); err != nil && !errors.Is(err, unix.ESRCH) {
				t.logger.Warn().Err(err).Int("thread", tid).Msg("cannot detach thread")
			}
			delete(t.tracees, tid)
		}
		t.logger.Debug().Msg("process detached")

		return nil
	})
}

// Close stops the ptrace goroutine and releases the process memory.
func (t *Tracer) Close() error {
	var err error
	t.closeOnce.Do(func() {
		if t.done != nil {
			close(t.done)
		}
		if t.mem != nil {
			err = t.mem.Close()
		}
	})
	return err
}
