package signals

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/maxgio92/crashenv/pkg/cmd/options"
	"github.com/maxgio92/crashenv/pkg/siginfo"
)

const CmdName = "signals"

type Options struct {
	*options.Options
}

func NewCommand(opts *options.Options) *cobra.Command {
	o := &Options{Options: opts}
	cmd := &cobra.Command{
		Use:               CmdName,
		Short:             "List the signals handled as crashes",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		RunE:              o.Run,
	}

	return cmd
}

func (o *Options) Run(cmd *cobra.Command, _ []string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SIGNAL\tNUMBER\tCODES")
	for _, d := range siginfo.Descriptors() {
		codes := make([]string, 0, len(d.Codes))
		for _, c := range d.Codes {
			codes = append(codes, c.Name)
		}
		if len(codes) == 0 {
			codes = append(codes, "-")
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", d.Name, int(d.Signal), strings.Join(codes, ", "))
	}

	return w.Flush()
}
