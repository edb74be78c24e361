// Package searchcmder provides the search command for semantic search over
// indexed content.
package searchcmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/semsearch/cmd/semsearch/cmdutil"
	"github.com/papercomputeco/semsearch/pkg/config"
	"github.com/papercomputeco/semsearch/pkg/document"
	"github.com/papercomputeco/semsearch/pkg/search"
)

type searchCommander struct {
	tags     string
	sources  string
	limit    int
	minScore float32

	storeProv  string
	storeTgt   string
	collection string
}

const searchLongDesc string = `Search indexed content by meaning.

The query is embedded by the embedding daemon (started on demand) and
compared against every stored chunk. Results are ranked by cosine
similarity.

Tags narrow results to chunks carrying every given tag. Sources narrow
results to the given source kinds.

Examples:
  semsearch search "how are retries configured"
  semsearch search "error handling" --tags project:api --limit 5
  semsearch search "deploy steps" --source local --min-score 0.5
  semsearch search "rate limiting" --format json`

const searchShortDesc string = "Search indexed content"

var searchFlags = []string{
	config.FlagVectorStoreProv,
	config.FlagVectorStoreTgt,
	config.FlagCollection,
}

func NewSearchCmd() *cobra.Command {
	cmder := &searchCommander{}

	cmd := &cobra.Command{
		Use:          "search <query>",
		Short:        searchShortDesc,
		Long:         searchLongDesc,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args[0])
		},
	}

	cmd.Flags().StringVarP(&cmder.tags, "tags", "t", "", "Only return chunks with all of these tags (comma separated key:value)")
	cmd.Flags().StringVarP(&cmder.sources, "source", "s", "", "Only return chunks from these source kinds (comma separated)")
	cmd.Flags().IntVarP(&cmder.limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().Float32Var(&cmder.minScore, "min-score", 0, "Drop results scoring below this")

	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreProv, &cmder.storeProv)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreTgt, &cmder.storeTgt)
	config.AddStringFlag(cmd, config.Flags, config.FlagCollection, &cmder.collection)

	return cmd
}

func (c *searchCommander) run(cmd *cobra.Command, query string) error {
	ctx := cmd.Context()

	env, err := cmdutil.Load(cmd, searchFlags...)
	if err != nil {
		return err
	}

	formatter, err := cmdutil.Formatter(cmd)
	if err != nil {
		return err
	}

	eng, err := env.Engine(false)
	if err != nil {
		return err
	}
	defer eng.Close()

	svc, err := eng.Search(ctx)
	if err != nil {
		return err
	}

	req := search.Request{
		Text:  query,
		Limit: c.limit,
	}
	if c.tags != "" {
		req.Tags = []string{c.tags}
	}
	for _, kind := range document.ParseSourceKinds(c.sources) {
		req.SourceKinds = append(req.SourceKinds, kind.String())
	}
	if cmd.Flags().Changed("min-score") {
		score := c.minScore
		req.MinScore = &score
	}

	results, err := svc.Search(ctx, req)
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), formatter.SearchResults(results))
	return nil
}
