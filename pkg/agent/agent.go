package agent

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/maxgio92/crashenv/pkg/capture"
	"github.com/maxgio92/crashenv/pkg/healthcheck"
	"github.com/maxgio92/crashenv/pkg/machine"
	"github.com/maxgio92/crashenv/pkg/ptrace"
	"github.com/maxgio92/crashenv/pkg/symtable"
	"github.com/maxgio92/crashenv/pkg/threadcache"
)

// Agent watches a process from outside and captures its environment
// when one of its threads receives a fatal signal.
type Agent struct {
	tracer       *ptrace.Tracer
	cache        *threadcache.Cache
	symbolicator *symtable.ProcessSymbolicator
	env          *machine.Environment
	capturer     *capture.Capturer
	health       *healthcheck.Server

	captures atomic.Int64
	since    time.Time

	*AgentOptions
}

func NewAgent(opts ...AgentOpt) (*Agent, error) {
	a := &Agent{
		AgentOptions: &AgentOptions{
			out:                os.Stdout,
			threadPollInterval: DefaultThreadPollInterval,
			logger:             log.Nop(),
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.pid <= 0 {
		return nil, errors.Wrapf(ErrInvalidPid, "%d", a.pid)
	}
	a.logger = a.logger.With().Str("component", "agent").Int("pid", a.pid).Logger()

	return a, nil
}

// Init attaches to the target and sets up the capture pipeline. The
// target keeps running.
func (a *Agent) Init() error {
	var tracerOpts []ptrace.TracerOpt
	tracerOpts = append(tracerOpts, ptrace.WithLogger(a.logger))
	if a.faultPollInterval > 0 {
		tracerOpts = append(tracerOpts, ptrace.WithPollInterval(a.faultPollInterval))
	}
	tracer, err := ptrace.NewTracer(a.pid, tracerOpts...)
	if err != nil {
		return errors.Wrap(err, "error creating the tracer")
	}
	if err := tracer.Init(); err != nil {
		return errors.Wrap(err, "error initializing the tracer")
	}
	if err := tracer.Seize(); err != nil {
		tracer.Close()
		return errors.Wrap(err, "error attaching to the process")
	}
	a.tracer = tracer
	procfs := tracer.ProcFS()

	a.cache = threadcache.New(procfs, threadcache.WithLogger(a.logger))
	a.cache.SetSearchQueueNames(a.queueNames)
	if err := a.cache.Refresh(); err != nil {
		a.logger.Warn().Err(err).Msg("cannot read thread names")
	}

	a.symbolicator = symtable.NewProcessSymbolicator(
		symtable.WithMapsFile(procfs.Path("maps")),
		symtable.WithImageRoot(procfs.Path("root")),
		symtable.WithLogger(a.logger),
	)
	if err := a.symbolicator.Init(); err != nil {
		a.logger.Warn().Err(err).Msg("cannot read memory mappings, frames will not be symbolicated")
	}

	a.env = machine.NewEnvironment(
		machine.WithProcess(tracer),
		machine.WithLogger(a.logger),
	)
	for _, t := range a.reserved {
		a.env.AddReservedThread(t)
	}

	a.capturer, err = capture.NewCapturer(
		capture.WithEnvironment(a.env),
		capture.WithCache(a.cache),
		capture.WithSymbolicator(a.symbolicator),
		capture.WithPid(a.pid),
		capture.WithMaxDepth(a.maxDepth),
		capture.WithLogger(a.logger),
	)
	if err != nil {
		return errors.Wrap(err, "error creating the capturer")
	}

	if a.socketPath != "" {
		a.health = healthcheck.NewServer(
			healthcheck.WithSocketPath(a.socketPath),
			healthcheck.WithLogger(a.logger),
		)
		if err := a.health.Listen(); err != nil {
			return errors.Wrap(err, "error starting the readiness server")
		}
	}
	a.since = time.Now()
	a.logger.Info().Int("threads", len(a.cache.AllThreads())).Msg("attached")

	return nil
}

// Run watches the target until it exits or ctx is done. Every crash is
// captured, reported and then delivered to the target.
func (a *Agent) Run(ctx context.Context) error {
	if a.tracer == nil {
		return ErrNotInitialized
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	if a.health != nil {
		g.Go(func() error {
			return a.health.Serve(ctx)
		})
	}
	a.cache.Start(ctx, a.threadPollInterval)
	if a.status {
		g.Go(func() error {
			a.printStatusBar(ctx)
			return nil
		})
	}
	g.Go(func() error {
		defer cancel()
		return a.watch(ctx)
	})
	if a.health != nil {
		a.health.NotifyReadiness()
	}

	return g.Wait()
}

func (a *Agent) watch(ctx context.Context) error {
	for {
		sc, err := a.tracer.WaitFault(ctx)
		switch {
		case errors.Is(err, ptrace.ErrProcessExited):
			a.logger.Info().Int64("crashes", a.captures.Load()).Msg("target process exited")
			return nil
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			return errors.Wrap(err, "error waiting for a fault")
		}

		a.handleFault(sc)

		if err := a.tracer.Deliver(sc); err != nil {
			return errors.Wrap(err, "error delivering the signal")
		}
	}
}

func (a *Agent) handleFault(sc *machine.SignalContext) {
	// Images can be loaded at any time.
	if err := a.symbolicator.Init(); err != nil {
		a.logger.Debug().Err(err).Msg("cannot refresh memory mappings")
	}
	report := a.capturer.CaptureCrash(sc)
	a.captures.Add(1)

	if err := a.writeReport(report); err != nil {
		a.logger.Error().Err(err).Msg("cannot write the crash report")
	}
}

// Snapshot captures the target without a crash.
func (a *Agent) Snapshot() (*capture.Report, error) {
	if a.capturer == nil {
		return nil, ErrNotInitialized
	}
	return a.capturer.CaptureSnapshot(), nil
}

// Captures returns the number of crashes captured so far.
func (a *Agent) Captures() int64 {
	return a.captures.Load()
}

func (a *Agent) writeReport(report *capture.Report) error {
	if a.reportPath == "" {
		return report.WriteText(a.out)
	}
	f, err := os.OpenFile(a.reportPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "error opening the report file")
	}
	defer f.Close()

	return report.WriteText(f)
}

// Close detaches from the target, which keeps running.
func (a *Agent) Close() error {
	if a.health != nil {
		if err := a.health.Shutdown(); err != nil {
			a.logger.Debug().Err(err).Msg("error shutting down the readiness server")
		}
	}
	if a.tracer == nil {
		return nil
	}
	if err := a.tracer.Detach(); err != nil {
		a.logger.Warn().Err(err).Msg("cannot detach from the process")
	}
	return a.tracer.Close()
}
