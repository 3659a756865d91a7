package machine

import (
	"syscall"

	"github.com/maxgio92/crashenv/internal/utils"
	"github.com/maxgio92/crashenv/pkg/arch"
	"github.com/maxgio92/crashenv/pkg/stack"
	"github.com/maxgio92/crashenv/pkg/thread"
)

// SignalContext is the state the kernel reports at a signal delivery stop.
type SignalContext struct {
	Thread    thread.Thread
	Signal    syscall.Signal
	Code      int32
	Registers arch.Block
}

// Context is the snapshot of one thread. It is filled once by
// ContextForThread or ContextForSignal and read only afterwards.
// It implements stack.MachineContext.
type Context struct {
	thread           thread.Thread
	isCurrentThread  bool
	isCrashedContext bool
	isSignalContext  bool
	isStackOverflow  bool

	allThreads  [MaxCapturedThreads]thread.Thread
	threadCount int

	registers arch.Block
	cpu       arch.CPU
	memory    stack.MemoryReader
}

// ContextForThread fills dst with the state of t. For crashed contexts it
// also detects stack overflows and captures the thread list. It returns
// false when the registers of t could not be read.
func (e *Environment) ContextForThread(dst *Context, t thread.Thread, isCrashedContext bool) bool {
	*dst = Context{
		thread:           t,
		isCrashedContext: isCrashedContext,
		cpu:              e.cpu,
	}
	if e.process != nil {
		dst.isCurrentThread = t == e.process.Self()
		dst.memory = e.process
	}

	if dst.CanHaveCPUState() {
		if e.process == nil {
			return false
		}
		if err := e.process.Registers(t, &dst.registers); err != nil {
			e.logger.Warn().Err(err).Int("thread", int(t)).Msg("cannot read thread registers")
			return false
		}
	}
	if isCrashedContext {
		e.completeCrashedContext(dst)
	}

	return true
}

// ContextForSignal fills dst from the signal delivery state. The context
// is both crashed and a signal context.
func (e *Environment) ContextForSignal(dst *Context, sc *SignalContext) bool {
	if sc == nil {
		e.logger.Error().Msg("no signal context")
		return false
	}
	*dst = Context{
		thread:           sc.Thread,
		isCrashedContext: true,
		isSignalContext:  true,
		registers:        sc.Registers,
		cpu:              e.cpu,
	}
	if e.process != nil {
		dst.isCurrentThread = sc.Thread == e.process.Self()
		dst.memory = e.process
	}
	e.completeCrashedContext(dst)

	return true
}

func (e *Environment) completeCrashedContext(ctx *Context) {
	ctx.isStackOverflow = isStackOverflow(ctx)
	ctx.threadCount = e.captureThreads(&ctx.allThreads, ctx.thread)
}

// isStackOverflow walks the stack up to the overflow threshold: a walk
// that is still going when the threshold is reached is an overflow.
func isStackOverflow(ctx *Context) bool {
	if ctx.cpu == nil {
		return false
	}
	var c stack.Cursor
	stack.InitWithMachineContext(&c, stack.OverflowThreshold, ctx)
	for c.Advance() {
	}
	return c.GivenUp
}

func (c *Context) Thread() thread.Thread {
	return c.thread
}

func (c *Context) ThreadCount() int {
	return c.threadCount
}

// ThreadAt returns thread.Invalid when i is out of range.
func (c *Context) ThreadAt(i int) thread.Thread {
	if i < 0 || i >= c.threadCount {
		return thread.Invalid
	}
	return c.allThreads[i]
}

// IndexOfThread returns -1 when t was not captured.
func (c *Context) IndexOfThread(t thread.Thread) int {
	return utils.IndexOf(c.allThreads[:c.threadCount], t)
}

// CanHaveCPUState reports whether the registers describe the thread. The
// registers of the current thread are only known from a signal context.
func (c *Context) CanHaveCPUState() bool {
	return !c.isCurrentThread || c.isSignalContext
}

func (c *Context) HasValidExceptionRegisters() bool {
	return c.CanHaveCPUState() && c.isCrashedContext
}

func (c *Context) IsCurrentThread() bool {
	return c.isCurrentThread
}

func (c *Context) IsCrashedContext() bool {
	return c.isCrashedContext
}

func (c *Context) IsSignalContext() bool {
	return c.isSignalContext
}

func (c *Context) IsStackOverflow() bool {
	return c.isStackOverflow
}

func (c *Context) Registers() *arch.Block {
	return &c.registers
}

func (c *Context) CPU() arch.CPU {
	return c.cpu
}

func (c *Context) Memory() stack.MemoryReader {
	return c.memory
}
