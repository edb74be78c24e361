// Package tagscmder provides the tags command listing the tags in the index.
package tagscmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/semsearch/cmd/semsearch/cmdutil"
	"github.com/papercomputeco/semsearch/pkg/config"
)

const tagsLongDesc string = `List every distinct tag in the index.

Examples:
  semsearch tags
  semsearch tags --format json`

const tagsShortDesc string = "List indexed tags"

var tagsFlags = []string{
	config.FlagVectorStoreProv,
	config.FlagVectorStoreTgt,
	config.FlagCollection,
}

func NewTagsCmd() *cobra.Command {
	var storeProv, storeTgt, collection string

	cmd := &cobra.Command{
		Use:          "tags",
		Short:        tagsShortDesc,
		Long:         tagsLongDesc,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := cmdutil.Load(cmd, tagsFlags...)
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

			store, err := eng.Store(ctx)
			if err != nil {
				return err
			}

			tags, err := store.ListTags(ctx)
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), formatter.Tags(tags))
			return nil
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreProv, &storeProv)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreTgt, &storeTgt)
	config.AddStringFlag(cmd, config.Flags, config.FlagCollection, &collection)

	return cmd
}
