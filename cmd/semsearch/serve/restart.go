package servecmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/semsearch/cmd/semsearch/cmdutil"
	"github.com/papercomputeco/semsearch/pkg/cliui"
)

const restartLongDesc string = `Restart the embedding daemon.

Stops a running daemon, then starts a new one in the background with the
current configuration. Use this after changing the embedding model.`

func newRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the embedding daemon",
		Long:  restartLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := cmdutil.Load(cmd)
			if err != nil {
				return err
			}

			eng, err := env.Engine(false)
			if err != nil {
				return err
			}
			defer eng.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			client := eng.Client()

			if err := cliui.Step(out, "Stopping embedding daemon", func() error {
				return client.Stop(ctx)
			}); err != nil {
				return err
			}
			if err := cliui.Step(out, "Starting embedding daemon", func() error {
				return client.EnsureRunning(ctx)
			}); err != nil {
				return err
			}

			fmt.Fprintf(out, "  %s %s\n", cliui.KeyStyle.Render("Socket:"), cliui.ValueStyle.Render(env.Lifecycle.SocketPath))
			return nil
		},
	}
}
