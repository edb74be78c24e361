// Package deletecmder provides the delete command for removing indexed
// content by tag or source kind.
package deletecmder

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/semsearch/cmd/semsearch/cmdutil"
	"github.com/papercomputeco/semsearch/pkg/config"
	"github.com/papercomputeco/semsearch/pkg/document"
)

type deleteCommander struct {
	tags    string
	sources string
	all     bool

	storeProv  string
	storeTgt   string
	collection string
}

const deleteLongDesc string = `Delete indexed content.

Removes every chunk carrying all of the given tags, every chunk from the
given source kinds, or with --all everything in the collection. The
collection itself is kept.

Examples:
  semsearch delete --tags project:old
  semsearch delete --source local
  semsearch delete --all`

const deleteShortDesc string = "Delete indexed content by tag or source"

var deleteFlags = []string{
	config.FlagVectorStoreProv,
	config.FlagVectorStoreTgt,
	config.FlagCollection,
}

func NewDeleteCmd() *cobra.Command {
	cmder := &deleteCommander{}

	cmd := &cobra.Command{
		Use:          "delete",
		Short:        deleteShortDesc,
		Long:         deleteLongDesc,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.tags, "tags", "t", "", "Delete chunks with all of these tags (comma separated key:value)")
	cmd.Flags().StringVarP(&cmder.sources, "source", "s", "", "Delete chunks from these source kinds (comma separated)")
	cmd.Flags().BoolVar(&cmder.all, "all", false, "Delete every chunk in the collection")
	cmd.MarkFlagsOneRequired("tags", "source", "all")
	cmd.MarkFlagsMutuallyExclusive("all", "tags")
	cmd.MarkFlagsMutuallyExclusive("all", "source")

	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreProv, &cmder.storeProv)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreTgt, &cmder.storeTgt)
	config.AddStringFlag(cmd, config.Flags, config.FlagCollection, &cmder.collection)

	return cmd
}

func (c *deleteCommander) run(cmd *cobra.Command) error {
	env, err := cmdutil.Load(cmd, deleteFlags...)
	if err != nil {
		return err
	}

	formatter, err := cmdutil.Formatter(cmd)
	if err != nil {
		return err
	}

	tags, err := document.ParseTags(c.tags)
	if err != nil {
		return fmt.Errorf("parsing tags: %w", err)
	}
	kinds := document.ParseSourceKinds(c.sources)
	if !c.all && len(tags) == 0 && len(kinds) == 0 {
		return errors.New("nothing to delete: give --tags, --source or --all")
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

	before, err := store.Count(ctx)
	if err != nil {
		return err
	}

	if c.all {
		if err := store.Clear(ctx); err != nil {
			return err
		}
	}
	if len(tags) > 0 {
		if err := store.DeleteByTags(ctx, document.TagStrings(tags)); err != nil {
			return err
		}
	}
	if len(kinds) > 0 {
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = k.String()
		}
		if err := store.DeleteBySourceKinds(ctx, names); err != nil {
			return err
		}
	}

	after, err := store.Count(ctx)
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), formatter.Message(
		fmt.Sprintf("Deleted %d chunks (%d remaining)", before-after, after),
	))
	return nil
}
