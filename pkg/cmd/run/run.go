package run

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/maxgio92/crashenv/internal/settings"
	"github.com/maxgio92/crashenv/pkg/agent"
	"github.com/maxgio92/crashenv/pkg/cmd/common"
	"github.com/maxgio92/crashenv/pkg/cmd/options"
	"github.com/maxgio92/crashenv/pkg/stack"
	"github.com/maxgio92/crashenv/pkg/thread"
)

const CmdName = "run"

var ErrNoPid = errors.New("no target pid specified")

type Options struct {
	pid                int
	detach             bool
	status             bool
	socketPath         string
	output             string
	threadPollInterval time.Duration
	maxDepth           int
	queueNames         bool
	reserved           []int

	pidFile string
	logFile string

	*options.Options
}

func NewCommand(opts *options.Options) *cobra.Command {
	o := &Options{
		pidFile: settings.PidFile,
		logFile: settings.LogFile,
		Options: opts,
	}
	cmd := &cobra.Command{
		Use:   CmdName,
		Short: "Watch a process and capture its environment when it crashes",
		Long: fmt.Sprintf(`
%s attaches to a running process and waits for its threads to receive a fatal signal.
At every crash all the threads are suspended, captured and reported, and then the signal
is delivered to the process.
`, CmdName),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		RunE:              o.Run,
	}

	cmd.Flags().IntVar(&o.pid, "pid", -1, "PID of the process to watch")
	cmd.Flags().BoolVarP(&o.detach, "detach", "d", false, fmt.Sprintf("Run %s as daemon", settings.CmdName))
	cmd.Flags().BoolVar(&o.status, "status", false, "Periodically print a status of the watch")
	cmd.Flags().StringVarP(&o.socketPath, "socket-path", "s", settings.HealthCheckSockPath, "Path to the readiness socket file")
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "Append crash reports to this file instead of the standard output")
	cmd.Flags().DurationVar(&o.threadPollInterval, "poll-interval", agent.DefaultThreadPollInterval, "Interval of the thread names refresh")
	cmd.Flags().IntVar(&o.maxDepth, "max-depth", stack.MaxDepth, "Maximum number of frames per thread")
	cmd.Flags().BoolVar(&o.queueNames, "queue-names", false, "Resolve the queue names of threads")
	cmd.Flags().IntSliceVar(&o.reserved, "reserved-threads", nil, "Threads of the process that are never suspended")

	return cmd
}

// load resolves the options from flags, environment and config file.
func (o *Options) load() {
	if o.Config == nil {
		return
	}
	o.pid = o.Config.GetInt("pid")
	o.detach = o.Config.GetBool("detach")
	o.status = o.Config.GetBool("status")
	o.socketPath = o.Config.GetString("socket-path")
	o.output = o.Config.GetString("output")
	o.threadPollInterval = o.Config.GetDuration("poll-interval")
	o.maxDepth = o.Config.GetInt("max-depth")
	o.queueNames = o.Config.GetBool("queue-names")
	o.reserved = o.Config.GetIntSlice("reserved-threads")
}

func (o *Options) Run(_ *cobra.Command, _ []string) error {
	o.load()
	if o.pid <= 0 {
		return ErrNoPid
	}
	if o.detach {
		return o.daemonize()
	}

	if err := common.WritePidFile(o.pidFile, os.Getpid()); err != nil {
		o.Logger.Warn().Err(err).Msg("failed to write PID file")
	}
	defer os.Remove(o.pidFile)

	reserved := make([]thread.Thread, 0, len(o.reserved))
	for _, t := range o.reserved {
		reserved = append(reserved, thread.Thread(t))
	}

	a, err := agent.NewAgent(
		agent.WithPid(o.pid),
		agent.WithSocketPath(o.socketPath),
		agent.WithReportPath(o.output),
		agent.WithThreadPollInterval(o.threadPollInterval),
		agent.WithMaxDepth(o.maxDepth),
		agent.WithQueueNames(o.queueNames),
		agent.WithReservedThreads(reserved...),
		agent.WithStatus(o.status),
		agent.WithLogger(o.Logger),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create agent")
	}
	defer a.Close()

	if err := a.Init(); err != nil {
		return errors.Wrap(err, "failed to init agent")
	}
	if err := a.Run(o.Ctx); err != nil {
		return errors.Wrap(err, "failed to run agent")
	}

	return nil
}

func (o *Options) daemonize() error {
	if common.IsDaemonRunning(o.pidFile) {
		fmt.Println("Daemon already running")
		return nil
	}

	cmd := exec.Command(os.Args[0], o.daemonArgs()...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if o.logFile != "" {
		f, err := os.OpenFile(o.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			o.Logger.Error().Err(err).Msg("failed to open log file")
			return err
		}
		defer f.Close()
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		o.Logger.Error().Err(err).Msgf("failed to start %s", settings.CmdName)
		return err
	}

	if err := common.WritePidFile(o.pidFile, cmd.Process.Pid); err != nil {
		o.Logger.Error().Err(err).Msg("failed to write PID file")
		return err
	}

	return nil
}

// daemonArgs are the arguments of the foreground run of the daemon.
func (o *Options) daemonArgs() []string {
	args := []string{CmdName}
	args = append(args, fmt.Sprintf("--pid=%d", o.pid))
	args = append(args, fmt.Sprintf("--socket-path=%s", o.socketPath))
	args = append(args, fmt.Sprintf("--poll-interval=%s", o.threadPollInterval))
	args = append(args, fmt.Sprintf("--max-depth=%d", o.maxDepth))
	args = append(args, fmt.Sprintf("--queue-names=%s", strconv.FormatBool(o.queueNames)))
	if o.output != "" {
		args = append(args, fmt.Sprintf("--output=%s", o.output))
	}
	for _, t := range o.reserved {
		args = append(args, fmt.Sprintf("--reserved-threads=%d", t))
	}
	if o.LogLevel != "" {
		args = append(args, fmt.Sprintf("--log-level=%s", o.LogLevel))
	}
	if o.ConfigFile != "" {
		args = append(args, fmt.Sprintf("--config=%s", o.ConfigFile))
	}

	return args
}
