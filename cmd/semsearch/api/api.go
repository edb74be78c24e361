// Package apicmder provides the api command running the HTTP API server.
package apicmder

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/semsearch/api"
	"github.com/papercomputeco/semsearch/cmd/semsearch/cmdutil"
	"github.com/papercomputeco/semsearch/pkg/cliui"
	"github.com/papercomputeco/semsearch/pkg/config"
	"github.com/papercomputeco/semsearch/pkg/logger"
)

type apiCommander struct {
	listen     string
	noMCP      bool
	storeProv  string
	storeTgt   string
	collection string
}

const apiLongDesc string = `Run the semsearch HTTP API server.

Serves search, status, tag listing and deletion over HTTP, plus an MCP
endpoint at /mcp exposing a search tool to agents. Queries are embedded by
the embedding daemon, which is started on demand.

Endpoints:
  GET    /ping
  GET    /v1/search?query=..&limit=..&tags=..&source=..&min_score=..
  POST   /v1/search
  GET    /v1/status
  GET    /v1/tags
  DELETE /v1/points?tags=..&source=..
  *      /mcp

Examples:
  semsearch api
  semsearch api --listen :9000 --no-mcp`

const apiShortDesc string = "Run the HTTP API server"

var apiFlags = []string{
	config.FlagAPIListen,
	config.FlagVectorStoreProv,
	config.FlagVectorStoreTgt,
	config.FlagCollection,
}

func NewAPICmd() *cobra.Command {
	cmder := &apiCommander{}

	cmd := &cobra.Command{
		Use:          "api",
		Short:        apiShortDesc,
		Long:         apiLongDesc,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	cmd.Flags().BoolVar(&cmder.noMCP, "no-mcp", false, "Do not mount the MCP endpoint")
	config.AddStringFlag(cmd, config.Flags, config.FlagAPIListen, &cmder.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreProv, &cmder.storeProv)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreTgt, &cmder.storeTgt)
	config.AddStringFlag(cmd, config.Flags, config.FlagCollection, &cmder.collection)

	return cmd
}

func (c *apiCommander) run(cmd *cobra.Command) error {
	env, err := cmdutil.Load(cmd, apiFlags...)
	if err != nil {
		return err
	}

	// The server is long running, so it logs at info like the daemon does.
	log := logger.New(
		logger.WithDebug(env.Debug),
		logger.WithPretty(cliui.IsTerminal(cmd.ErrOrStderr())),
		logger.WithWriter(cmd.ErrOrStderr()),
		logger.WithPrefix("api"),
	)
	env.Logger = log

	eng, err := env.Engine(false)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := eng.Search(ctx)
	if err != nil {
		return err
	}
	store, err := eng.Store(ctx)
	if err != nil {
		return err
	}

	server, err := api.NewServer(api.Config{
		ListenAddr: env.Config.API.Listen,
		Search:     svc,
		Store:      store,
		DisableMCP: c.noMCP,
	}, log)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Run()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		log.Info("received signal, shutting down")
		if err := server.Shutdown(); err != nil {
			return fmt.Errorf("shutting down API server: %w", err)
		}
		return nil
	}
}
