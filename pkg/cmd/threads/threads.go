package threads

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/maxgio92/crashenv/pkg/cmd/options"
	"github.com/maxgio92/crashenv/pkg/thread"
	"github.com/maxgio92/crashenv/pkg/threadcache"
)

const CmdName = "threads"

var ErrNoPid = errors.New("no target pid specified")

type Options struct {
	pid      int
	procRoot string

	*options.Options
}

func NewCommand(opts *options.Options) *cobra.Command {
	o := &Options{Options: opts}
	cmd := &cobra.Command{
		Use:               CmdName,
		Short:             "List the threads of a process with their names",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		RunE:              o.Run,
	}

	cmd.Flags().IntVar(&o.pid, "pid", -1, "PID of the process")
	cmd.Flags().StringVar(&o.procRoot, "proc-root", "/proc", "Mount point of procfs")

	return cmd
}

func (o *Options) Run(cmd *cobra.Command, _ []string) error {
	if o.Config != nil {
		o.pid = o.Config.GetInt("pid")
		o.procRoot = o.Config.GetString("proc-root")
	}
	if o.pid <= 0 {
		return ErrNoPid
	}

	procfs, err := thread.NewProcFS(o.pid, thread.WithProcRoot(o.procRoot))
	if err != nil {
		return err
	}
	cache := threadcache.New(procfs, threadcache.WithLogger(o.Logger))
	cache.SetSearchQueueNames(true)
	if err := cache.Refresh(); err != nil {
		return errors.Wrapf(err, "failed to list the threads of %d", o.pid)
	}
	entries := cache.Entries()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TID\tLOCAL ID\tNAME\tQUEUE")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", e.Thread, e.LocalID, orDash(e.Name), orDash(e.QueueName))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%s threads\n", humanize.Comma(int64(len(entries))))

	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
