package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/maxgio92/crashenv/internal/settings"
	"github.com/maxgio92/crashenv/pkg/cmd/options"
	"github.com/maxgio92/crashenv/pkg/cmd/run"
	"github.com/maxgio92/crashenv/pkg/cmd/signals"
	"github.com/maxgio92/crashenv/pkg/cmd/snapshot"
	"github.com/maxgio92/crashenv/pkg/cmd/status"
	"github.com/maxgio92/crashenv/pkg/cmd/stop"
	"github.com/maxgio92/crashenv/pkg/cmd/threads"
	"github.com/maxgio92/crashenv/pkg/cmd/wait"
)

const logLevelInfo = "info"

func NewCommand(opts *options.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   settings.CmdName,
		Short: fmt.Sprintf("%s captures the environment of crashing processes", settings.CmdName),
		Long: fmt.Sprintf(`
%s attaches to a running process and, when one of its threads receives a fatal signal,
captures the state of every thread: registers, call stacks, thread names and the faulting
instruction. The process then handles or dies of the signal as it would have without %s.
`, settings.CmdName, settings.CmdName),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.Init(cmd)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", logLevelInfo, "Log level (trace, debug, info, warn, error, fatal, panic)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "",
		fmt.Sprintf("Config file (default is $HOME/.config/%s/config.yaml)", settings.CmdName))
	cmd.PersistentFlags().BoolVar(&opts.NoColor, "no-color", false, "Disable colorized output")

	cmd.AddCommand(run.NewCommand(opts))
	cmd.AddCommand(snapshot.NewCommand(opts))
	cmd.AddCommand(threads.NewCommand(opts))
	cmd.AddCommand(signals.NewCommand(opts))
	cmd.AddCommand(status.NewCommand(opts))
	cmd.AddCommand(stop.NewCommand(opts))
	cmd.AddCommand(wait.NewCommand(opts))

	return cmd
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(
		log.ConsoleWriter{Out: os.Stderr},
	).With().Timestamp().Logger()

	opts := options.NewOptions(
		options.WithContext(ctx),
		options.WithLogger(logger),
	)

	if err := NewCommand(opts).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
