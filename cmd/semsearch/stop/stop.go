// Package stopcmder provides the stop command for the embedding daemon.
package stopcmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/semsearch/cmd/semsearch/cmdutil"
	"github.com/papercomputeco/semsearch/pkg/cliui"
)

const stopLongDesc string = `Stop the embedding daemon.

Asks the daemon to shut down and waits for its socket to disappear. A daemon
that does not answer is sent SIGTERM. Stopping when no daemon runs is not an
error.

Examples:
  semsearch stop`

const stopShortDesc string = "Stop the embedding daemon"

func NewStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: stopShortDesc,
		Long:  stopLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := cmdutil.Load(cmd)
			if err != nil {
				return err
			}

			eng, err := env.Engine(true)
			if err != nil {
				return err
			}
			defer eng.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			client := eng.Client()

			if !client.IsRunning(ctx) {
				fmt.Fprintf(out, "  %s Daemon is not running\n", cliui.DimStyle.Render("●"))
				// Clear leftovers from a crashed daemon.
				return client.Stop(ctx)
			}

			return cliui.Step(out, "Stopping embedding daemon", func() error {
				return client.Stop(ctx)
			})
		},
	}
}
