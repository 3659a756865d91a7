package snapshot

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/maxgio92/crashenv/pkg/agent"
	"github.com/maxgio92/crashenv/pkg/cmd/options"
	"github.com/maxgio92/crashenv/pkg/stack"
)

const CmdName = "snapshot"

var ErrNoPid = errors.New("no target pid specified")

type Options struct {
	pid        int
	output     string
	maxDepth   int
	queueNames bool

	*options.Options
}

func NewCommand(opts *options.Options) *cobra.Command {
	o := &Options{Options: opts}
	cmd := &cobra.Command{
		Use:   CmdName,
		Short: "Capture the environment of a running process",
		Long: fmt.Sprintf(`
%s briefly suspends every thread of a running process, captures their registers and
call stacks, and resumes them.
`, CmdName),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		RunE:              o.Run,
	}

	cmd.Flags().IntVar(&o.pid, "pid", -1, "PID of the process to capture")
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "Write the report to this file instead of the standard output")
	cmd.Flags().IntVar(&o.maxDepth, "max-depth", stack.MaxDepth, "Maximum number of frames per thread")
	cmd.Flags().BoolVar(&o.queueNames, "queue-names", false, "Resolve the queue names of threads")

	return cmd
}

func (o *Options) load() {
	if o.Config == nil {
		return
	}
	o.pid = o.Config.GetInt("pid")
	o.output = o.Config.GetString("output")
	o.maxDepth = o.Config.GetInt("max-depth")
	o.queueNames = o.Config.GetBool("queue-names")
}

func (o *Options) Run(cmd *cobra.Command, _ []string) error {
	o.load()
	if o.pid <= 0 {
		return ErrNoPid
	}

	a, err := agent.NewAgent(
		agent.WithPid(o.pid),
		agent.WithMaxDepth(o.maxDepth),
		agent.WithQueueNames(o.queueNames),
		agent.WithLogger(o.Logger),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create agent")
	}
	defer a.Close()

	if err := a.Init(); err != nil {
		return errors.Wrap(err, "failed to init agent")
	}
	report, err := a.Snapshot()
	if err != nil {
		return errors.Wrap(err, "failed to capture")
	}

	if o.output == "" {
		return report.WriteText(cmd.OutOrStdout())
	}
	f, err := os.Create(o.output)
	if err != nil {
		return errors.Wrap(err, "failed to create the report file")
	}
	defer f.Close()

	return report.WriteText(f)
}
