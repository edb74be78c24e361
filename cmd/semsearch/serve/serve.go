// Package servecmder provides the serve command for running the embedding
// daemon.
package servecmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/semsearch/cmd/semsearch/cmdutil"
	stopcmder "github.com/papercomputeco/semsearch/cmd/semsearch/stop"
	"github.com/papercomputeco/semsearch/pkg/cliui"
	"github.com/papercomputeco/semsearch/pkg/config"
	"github.com/papercomputeco/semsearch/pkg/daemon"
	"github.com/papercomputeco/semsearch/pkg/engine"
	"github.com/papercomputeco/semsearch/pkg/logger"
)

type serveCommander struct {
	detached   bool
	foreground bool
	logs       bool

	idleTimeout time.Duration
	concurrency int
	model       string
}

const serveLongDesc string = `Run the embedding daemon.

The daemon loads the embedding model once and answers embedding requests
over a unix socket in the semsearch directory. It stops by itself after the
idle timeout. Commands that need embeddings start it on demand, so running
it by hand is only needed to warm it up or watch it.

By default the daemon is started in the background. Use --foreground to run
it attached to the terminal, or --logs to follow the daemon log after
starting it.

Examples:
  semsearch serve
  semsearch serve --logs
  semsearch serve --foreground --idle-timeout 0
  semsearch serve restart
  semsearch serve stop`

const serveShortDesc string = "Run the embedding daemon"

var serveFlags = []string{
	config.FlagEmbeddingProv,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagEmbeddingDims,
	config.FlagIdleTimeout,
	config.FlagConcurrency,
}

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}
	var embeddingProv, embeddingTgt, embeddingModel string
	var embeddingDims uint

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := cmdutil.Load(cmd, serveFlags...)
			if err != nil {
				return err
			}

			switch {
			case cmder.detached:
				return cmder.runDaemon(cmd.Context(), env, logger.New(
					logger.WithJSON(true),
					logger.WithDebug(env.Debug),
					logger.WithWriter(cmd.ErrOrStderr()),
				))
			case cmder.foreground:
				logFile, err := os.OpenFile(env.Lifecycle.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
				if err != nil {
					return fmt.Errorf("opening daemon log: %w", err)
				}
				defer logFile.Close()

				return cmder.runDaemon(cmd.Context(), env, logger.Multi(
					logger.New(
						logger.WithDebug(env.Debug),
						logger.WithPretty(cliui.IsTerminal(cmd.ErrOrStderr())),
						logger.WithWriter(cmd.ErrOrStderr()),
						logger.WithPrefix("daemon"),
					),
					logger.New(
						logger.WithJSON(true),
						logger.WithDebug(env.Debug),
						logger.WithWriter(logFile),
					),
				))
			default:
				return cmder.start(cmd.Context(), env, cmd.OutOrStdout())
			}
		},
	}

	cmd.Flags().BoolVar(&cmder.detached, "daemon", false, "Run as the detached daemon process")
	_ = cmd.Flags().MarkHidden("daemon")
	cmd.Flags().BoolVar(&cmder.foreground, "foreground", false, "Run the daemon attached to this terminal")
	cmd.Flags().BoolVar(&cmder.logs, "logs", false, "Follow the daemon log after starting it")

	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingProv, &embeddingProv)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingTgt, &embeddingTgt)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingModel, &embeddingModel)
	config.AddUintFlag(cmd, config.Flags, config.FlagEmbeddingDims, &embeddingDims)
	config.AddDurationFlag(cmd, config.Flags, config.FlagIdleTimeout, &cmder.idleTimeout)
	config.AddIntFlag(cmd, config.Flags, config.FlagConcurrency, &cmder.concurrency)

	cmd.AddCommand(stopcmder.NewStopCmd())
	cmd.AddCommand(newRestartCmd())

	return cmd
}

// runDaemon serves until a signal, a shutdown request or the idle timeout.
func (c *serveCommander) runDaemon(ctx context.Context, env *cmdutil.Env, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := engine.NewDaemon(ctx, env.Config, env.Lifecycle, log)
	if err != nil {
		return err
	}

	err = srv.Serve(ctx)
	if errors.Is(err, daemon.ErrAlreadyRunning) {
		log.Info("embedding daemon already running", "socket", env.Lifecycle.SocketPath)
		return nil
	}
	return err
}

// start spawns the daemon in the background unless one is running.
func (c *serveCommander) start(ctx context.Context, env *cmdutil.Env, out io.Writer) error {
	eng, err := env.Engine(false)
	if err != nil {
		return err
	}
	defer eng.Close()

	client := eng.Client()
	if client.IsRunning(ctx) {
		fmt.Fprintf(out, "  %s Daemon is already running\n", cliui.DimStyle.Render("●"))
	} else {
		err := cliui.Step(out, "Starting embedding daemon", func() error {
			return client.EnsureRunning(ctx)
		})
		if err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "  %s %s\n", cliui.KeyStyle.Render("Socket:"), cliui.ValueStyle.Render(env.Lifecycle.SocketPath))
	fmt.Fprintf(out, "  %s %s\n", cliui.KeyStyle.Render("Log:   "), cliui.ValueStyle.Render(env.Lifecycle.LogPath))

	if !c.logs {
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(out)
	err = followLog(ctx, env.Lifecycle.LogPath, out)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
