package capture

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"

	"github.com/maxgio92/crashenv/pkg/arch"
	"github.com/maxgio92/crashenv/pkg/disasm"
	"github.com/maxgio92/crashenv/pkg/machine"
	"github.com/maxgio92/crashenv/pkg/siginfo"
	"github.com/maxgio92/crashenv/pkg/stack"
	"github.com/maxgio92/crashenv/pkg/thread"
	"github.com/maxgio92/crashenv/pkg/threadcache"
)

var ErrNoEnvironment = errors.New("no machine environment specified")

// Capturer builds reports from the machine environment of a process.
type Capturer struct {
	env          *machine.Environment
	cache        *threadcache.Cache
	symbolicator stack.Symbolicator
	logger       log.Logger
	pid          int
	maxDepth     int
	now          func() time.Time
}

type CapturerOpt func(*Capturer)

func WithEnvironment(env *machine.Environment) CapturerOpt {
	return func(c *Capturer) {
		c.env = env
	}
}

// WithCache sets the thread metadata cache used to name threads. It is
// frozen for the duration of a capture.
func WithCache(cache *threadcache.Cache) CapturerOpt {
	return func(c *Capturer) {
		c.cache = cache
	}
}

func WithSymbolicator(s stack.Symbolicator) CapturerOpt {
	return func(c *Capturer) {
		c.symbolicator = s
	}
}

func WithLogger(logger log.Logger) CapturerOpt {
	return func(c *Capturer) {
		c.logger = logger
	}
}

func WithPid(pid int) CapturerOpt {
	return func(c *Capturer) {
		c.pid = pid
	}
}

// WithMaxDepth bounds the number of frames of every thread.
func WithMaxDepth(depth int) CapturerOpt {
	return func(c *Capturer) {
		c.maxDepth = depth
	}
}

func NewCapturer(opts ...CapturerOpt) (*Capturer, error) {
	c := &Capturer{
		logger:   log.Nop(),
		maxDepth: stack.MaxDepth,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.env == nil {
		return nil, ErrNoEnvironment
	}
	c.logger = c.logger.With().Str("component", "capture").Logger()

	return c, nil
}

// CaptureCrash captures every thread of the process at the signal
// delivery described by sc. It never fails: what cannot be read is
// reported as missing.
func (c *Capturer) CaptureCrash(sc *machine.SignalContext) *Report {
	report := c.newReport()
	report.Crashed = true

	if c.cache != nil {
		c.cache.Freeze()
		defer c.cache.Unfreeze()
	}
	suspended := c.env.SuspendEnvironment()
	defer c.env.ResumeEnvironment(suspended)

	var crashed machine.Context
	if !c.env.ContextForSignal(&crashed, sc) {
		c.logger.Error().Msg("no crashed context, capturing a snapshot instead")
		report.Threads = c.threadReports(c.env.Threads(thread.Invalid), thread.Invalid)
		return report
	}
	report.Signal = signalReport(sc, &crashed)

	if cpu := crashed.CPU(); cpu != nil {
		pc := cpu.InstructionAddress(crashed.Registers())
		if inst, err := disasm.Instruction(cpu, crashed.Memory(), pc); err != nil {
			c.logger.Debug().Err(err).Msg("cannot decode the faulting instruction")
		} else {
			report.Instruction = inst
		}
	}

	report.Threads = make([]ThreadReport, 0, crashed.ThreadCount())
	for i := 0; i < crashed.ThreadCount(); i++ {
		t := crashed.ThreadAt(i)
		if t == sc.Thread {
			report.Threads = append(report.Threads, c.threadReport(&crashed, true))
			continue
		}
		report.Threads = append(report.Threads, c.otherThreadReport(t))
	}
	// The crashed thread can be gone from procfs already.
	if crashed.IndexOfThread(sc.Thread) < 0 {
		report.Threads = append(report.Threads, c.threadReport(&crashed, true))
	}
	c.logger.Info().Int("threads", len(report.Threads)).Msg("crash captured")

	return report
}

// CaptureSnapshot captures every thread of the process outside of any
// crash.
func (c *Capturer) CaptureSnapshot() *Report {
	report := c.newReport()

	if c.cache != nil {
		c.cache.Freeze()
		defer c.cache.Unfreeze()
	}
	suspended := c.env.SuspendEnvironment()
	defer c.env.ResumeEnvironment(suspended)

	report.Threads = c.threadReports(c.env.Threads(thread.Invalid), thread.Invalid)
	c.logger.Info().Int("threads", len(report.Threads)).Msg("snapshot captured")

	return report
}

func (c *Capturer) newReport() *Report {
	report := &Report{
		Pid:  c.pid,
		Time: c.now(),
	}
	if cpu := c.env.CPU(); cpu != nil {
		report.Arch = cpu.Name()
	}
	return report
}

func (c *Capturer) threadReports(threads []thread.Thread, skip thread.Thread) []ThreadReport {
	reports := make([]ThreadReport, 0, len(threads))
	for _, t := range threads {
		if t == skip {
			continue
		}
		reports = append(reports, c.otherThreadReport(t))
	}
	return reports
}

func (c *Capturer) otherThreadReport(t thread.Thread) ThreadReport {
	var ctx machine.Context
	if !c.env.ContextForThread(&ctx, t, false) {
		r := c.describe(t)
		r.Err = "registers unavailable"
		return r
	}
	return c.threadReport(&ctx, false)
}

func (c *Capturer) describe(t thread.Thread) ThreadReport {
	r := ThreadReport{Thread: t}
	if c.cache == nil {
		return r
	}
	r.Name, _ = c.cache.ThreadName(t)
	r.QueueName, _ = c.cache.QueueName(t)
	r.LocalID, _ = c.cache.LocalID(t)
	return r
}

func (c *Capturer) threadReport(ctx *machine.Context, crashed bool) ThreadReport {
	r := c.describe(ctx.Thread())
	r.Crashed = crashed
	r.Current = ctx.IsCurrentThread()
	r.StackOverflow = ctx.IsStackOverflow()

	cpu := ctx.CPU()
	if cpu == nil || !ctx.CanHaveCPUState() {
		return r
	}
	r.Registers = registers(cpu, ctx.Registers())
	if ctx.HasValidExceptionRegisters() {
		r.ExceptionRegisters = exceptionRegisters(cpu, ctx.Registers())
	}

	var cursor stack.Cursor
	stack.InitWithMachineContext(&cursor, c.maxDepth, ctx)
	cursor.SetSymbolicator(c.symbolicator)
	for cursor.Advance() {
		cursor.Symbolicate()
		r.Frames = append(r.Frames, cursor.Frame)
	}
	r.Truncated = cursor.GivenUp

	return r
}

func registers(cpu arch.CPU, b *arch.Block) []Register {
	regs := make([]Register, 0, cpu.NumRegisters())
	for i := 0; i < cpu.NumRegisters(); i++ {
		name, _ := cpu.RegisterName(i)
		value, _ := cpu.RegisterValue(b, i)
		regs = append(regs, Register{Name: name, Value: value})
	}
	return regs
}

func exceptionRegisters(cpu arch.CPU, b *arch.Block) []Register {
	regs := make([]Register, 0, cpu.NumExceptionRegisters())
	for i := 0; i < cpu.NumExceptionRegisters(); i++ {
		value, ok := cpu.ExceptionRegisterValue(b, i)
		if !ok {
			continue
		}
		name, _ := cpu.ExceptionRegisterName(i)
		regs = append(regs, Register{Name: name, Value: value})
	}
	return regs
}

func signalReport(sc *machine.SignalContext, ctx *machine.Context) *SignalReport {
	r := &SignalReport{
		Signal: sc.Signal,
		Code:   sc.Code,
		Name:   "unknown",
	}
	if name, ok := siginfo.SignalName(sc.Signal); ok {
		r.Name = name
	}
	if name, ok := siginfo.SignalCodeName(sc.Signal, int(sc.Code)); ok {
		r.CodeName = name
	}
	if cpu := ctx.CPU(); cpu != nil {
		r.FaultAddress = cpu.FaultAddress(ctx.Registers())
	}
	return r
}
