// Package statuscmder provides the status command reporting daemon and
// vector store health.
package statuscmder

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/semsearch/cmd/semsearch/cmdutil"
	"github.com/papercomputeco/semsearch/pkg/config"
	"github.com/papercomputeco/semsearch/pkg/search"
)

const statusLongDesc string = `Show the embedding daemon and vector store status.

Reports whether the daemon is running (never starting it), its model,
uptime and request metrics, and whether the vector store is reachable with
its point count. Exits non-zero when either component is down.

Examples:
  semsearch status
  semsearch status --format json`

const statusShortDesc string = "Show daemon and vector store status"

// ErrUnhealthy is returned when the daemon or the store is down.
var ErrUnhealthy = errors.New("semsearch is not healthy")

var statusFlags = []string{
	config.FlagVectorStoreProv,
	config.FlagVectorStoreTgt,
	config.FlagCollection,
}

func NewStatusCmd() *cobra.Command {
	var storeProv, storeTgt, collection string

	cmd := &cobra.Command{
		Use:          "status",
		Short:        statusShortDesc,
		Long:         statusLongDesc,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := cmdutil.Load(cmd, statusFlags...)
			if err != nil {
				return err
			}

			formatter, err := cmdutil.Formatter(cmd)
			if err != nil {
				return err
			}

			eng, err := env.Engine(true)
			if err != nil {
				return err
			}
			defer eng.Close()

			ctx, cancel := eng.WithStoreTimeout(cmd.Context())
			defer cancel()

			var st search.Status
			store, err := eng.Store(ctx)
			if err != nil {
				st = search.Status{
					Daemon: search.DaemonStatusOf(ctx, eng.Client()),
					Store:  search.StoreStatus{Error: err.Error()},
				}
			} else {
				st = search.Status{
					Daemon: search.DaemonStatusOf(ctx, eng.Client()),
					Store:  search.StoreStatusOf(ctx, store),
				}
			}

			fmt.Fprint(cmd.OutOrStdout(), formatter.Status(st))
			if !st.Healthy() {
				return ErrUnhealthy
			}
			return nil
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreProv, &storeProv)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreTgt, &storeTgt)
	config.AddStringFlag(cmd, config.Flags, config.FlagCollection, &collection)

	return cmd
}
