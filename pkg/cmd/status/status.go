package status

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/maxgio92/crashenv/internal/settings"
	"github.com/maxgio92/crashenv/pkg/cmd/common"
	"github.com/maxgio92/crashenv/pkg/cmd/options"
)

type Options struct {
	pidFile string

	*options.Options
}

func NewCommand(opts *options.Options) *cobra.Command {
	o := &Options{pidFile: settings.PidFile, Options: opts}
	cmd := &cobra.Command{
		Use:               "status",
		Short:             fmt.Sprintf("Check the %s daemon status", settings.CmdName),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Run:               o.Run,
	}

	return cmd
}

func (o *Options) Run(cmd *cobra.Command, _ []string) {
	out := cmd.OutOrStdout()

	pid, since, err := common.ReadPidFile(o.pidFile)
	if err != nil || !common.IsRunning(pid) {
		fmt.Fprintf(out, "%s is not running\n", settings.CmdName)
		return
	}
	fmt.Fprintf(out, "%s is running (PID %d, started %s)\n", settings.CmdName, pid, humanize.Time(since))
}
