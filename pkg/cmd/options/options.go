package options

import (
	"context"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/maxgio92/crashenv/internal/config"
)

// Options are shared by every command.
type Options struct {
	Ctx        context.Context
	Logger     log.Logger
	LogLevel   string
	ConfigFile string
	NoColor    bool

	// Config resolves the flags of the running command. It is set by
	// Init.
	Config *viper.Viper
}

type Option func(o *Options)

func NewOptions(opts ...Option) *Options {
	o := &Options{
		Ctx:    context.Background(),
		Logger: log.Nop(),
	}
	for _, f := range opts {
		f(o)
	}

	return o
}

func WithContext(ctx context.Context) Option {
	return func(o *Options) {
		o.Ctx = ctx
	}
}

func WithLogger(logger log.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

func WithLogLevel(level string) Option {
	return func(o *Options) {
		o.LogLevel = level
	}
}

// Init loads the configuration of cmd and applies the log level and
// the color setting.
func (o *Options) Init(cmd *cobra.Command) error {
	v, err := config.New(cmd.Flags(), o.ConfigFile)
	if err != nil {
		return err
	}
	o.Config = v

	o.LogLevel = v.GetString("log-level")
	logLevel, err := log.ParseLevel(o.LogLevel)
	if err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	o.Logger = o.Logger.Level(logLevel)

	if v.GetBool("no-color") {
		color.NoColor = true
	}

	return nil
}
