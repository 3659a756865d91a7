package stop

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maxgio92/crashenv/internal/settings"
	"github.com/maxgio92/crashenv/pkg/cmd/common"
	"github.com/maxgio92/crashenv/pkg/cmd/options"
)

const (
	stopPollInterval = 100 * time.Millisecond
	stopPolls        = 50
)

type Options struct {
	pidFile string

	*options.Options
}

func NewCommand(opts *options.Options) *cobra.Command {
	o := &Options{pidFile: settings.PidFile, Options: opts}
	cmd := &cobra.Command{
		Use:               "stop",
		Short:             fmt.Sprintf("Stop the %s daemon", settings.CmdName),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Run:               o.Run,
	}

	return cmd
}

// Run stops the daemon. The daemon detaches from its target on SIGTERM,
// so the target keeps running.
func (o *Options) Run(cmd *cobra.Command, _ []string) {
	out := cmd.OutOrStdout()

	pid, _, err := common.ReadPidFile(o.pidFile)
	if err != nil {
		fmt.Fprintf(out, "%s not running or PID file not found\n", settings.CmdName)
		return
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintln(out, "Process not found")
		return
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		fmt.Fprintf(out, "Failed to stop daemon: %v\n", err)
		os.Remove(o.pidFile)
		return
	}

	for i := 0; i < stopPolls; i++ {
		if !common.IsRunning(pid) {
			fmt.Fprintf(out, "%s stopped (PID %d)\n", settings.CmdName, pid)
			os.Remove(o.pidFile)
			return
		}
		time.Sleep(stopPollInterval)
	}

	process.Kill()
	os.Remove(o.pidFile)
	fmt.Fprintf(out, "%s force killed (PID %d)\n", settings.CmdName, pid)
}
