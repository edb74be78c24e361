// Package cmdutil loads layered configuration and builds the shared
// components for semsearch commands.
package cmdutil

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/semsearch/pkg/cliui"
	"github.com/papercomputeco/semsearch/pkg/config"
	"github.com/papercomputeco/semsearch/pkg/engine"
	"github.com/papercomputeco/semsearch/pkg/lifecycle"
	"github.com/papercomputeco/semsearch/pkg/logger"
)

// Env is what every command needs after flag parsing.
type Env struct {
	Config    *config.Config
	Lifecycle *lifecycle.Manager
	Logger    *slog.Logger
	Debug     bool
	ConfigDir string
}

// Load resolves the semsearch directory, reads config.toml and the
// environment, and binds the given registry flags so explicit flags win.
func Load(cmd *cobra.Command, flagKeys ...string) (*Env, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")
	debug, _ := cmd.Flags().GetBool("debug")

	v, err := config.InitViper(configDir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	config.BindRegisteredFlags(v, cmd, config.Flags, flagKeys)

	lm, err := lifecycle.NewManager(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving semsearch directory: %w", err)
	}

	cfg := config.FromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Env{
		Config:    cfg,
		Lifecycle: lm,
		Logger:    NewCLILogger(debug, cmd.ErrOrStderr()),
		Debug:     debug,
		ConfigDir: lm.Dir,
	}, nil
}

// NewCLILogger logs warnings and errors to w, or everything with debug.
// Terminals get colorized output.
func NewCLILogger(debug bool, w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return logger.New(
		logger.WithLevel(level),
		logger.WithPretty(cliui.IsTerminal(w)),
		logger.WithWriter(w),
	)
}

// Engine builds the shared components. With noSpawn the daemon is never
// started on demand.
func (e *Env) Engine(noSpawn bool) (*engine.Engine, error) {
	return engine.New(engine.Options{
		Config:    e.Config,
		Lifecycle: e.Lifecycle,
		NoSpawn:   noSpawn,
		Logger:    e.Logger,
	})
}

// Formatter returns the formatter selected by the global --format flag,
// colorized when stdout is a terminal.
func Formatter(cmd *cobra.Command) (cliui.Formatter, error) {
	format, _ := cmd.Flags().GetString("format")
	f, err := cliui.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return cliui.NewFormatter(f, cliui.IsTerminal(cmd.OutOrStdout())), nil
}
