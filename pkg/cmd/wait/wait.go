package wait

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/maxgio92/crashenv/internal/settings"
	"github.com/maxgio92/crashenv/pkg/cmd/options"
	"github.com/maxgio92/crashenv/pkg/healthcheck"
)

const (
	CmdName       = "wait"
	retryInterval = 500 * time.Millisecond
)

type Options struct {
	socketPath string
	timeout    time.Duration

	*options.Options
}

func NewCommand(opts *options.Options) *cobra.Command {
	o := &Options{Options: opts}
	cmd := &cobra.Command{
		Use:               CmdName,
		Short:             fmt.Sprintf("Wait for the %s daemon to be attached to its target", settings.CmdName),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		RunE:              o.Run,
	}

	cmd.Flags().StringVarP(&o.socketPath, "socket-path", "s", settings.HealthCheckSockPath, fmt.Sprintf("Path to the %s socket file", settings.CmdName))
	cmd.Flags().DurationVar(&o.timeout, "timeout", time.Second*120, "Timeout")

	return cmd
}

func (o *Options) Run(_ *cobra.Command, _ []string) error {
	if o.Config != nil {
		o.socketPath = o.Config.GetString("socket-path")
		o.timeout = o.Config.GetDuration("timeout")
	}
	logger := o.Logger.With().Str("component", "wait").Logger()

	ctx, cancel := context.WithTimeout(o.Ctx, o.timeout)
	defer cancel()

	logger.Info().Msg("waiting for the agent to be ready")
	if err := healthcheck.WaitReady(ctx, o.socketPath, retryInterval); err != nil {
		return errors.Wrap(err, "agent is not ready")
	}
	logger.Info().Msg("agent is ready")

	return nil
}
