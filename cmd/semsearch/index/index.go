// Package indexcmder provides the index command for adding local files to
// the semantic index.
package indexcmder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/semsearch/cmd/semsearch/cmdutil"
	"github.com/papercomputeco/semsearch/pkg/cliui"
	"github.com/papercomputeco/semsearch/pkg/config"
	"github.com/papercomputeco/semsearch/pkg/document"
	"github.com/papercomputeco/semsearch/pkg/git"
	"github.com/papercomputeco/semsearch/pkg/indexer"
)

type indexCommander struct {
	tags    string
	exclude []string
	reindex bool
	dryRun  bool
	repoTag bool

	chunkSize    int
	chunkOverlap int
	batchSize    int
	pipelined    bool
	storeProv    string
	storeTgt     string
	collection   string
	eventsProv   string
	eventsBroker []string
}

const indexLongDesc string = `Index a file or directory for semantic search.

Text files are split into overlapping chunks, embedded by the embedding
daemon (started on demand) and stored in the vector store. Binary files,
files over the size limit and excluded paths are skipped.

Tags are key:value pairs attached to every chunk and can later be used to
filter searches or delete content.

Use --repo-tag to also tag every chunk with repo:<name>, where name is the
git repository containing the path (or the directory name outside git).

Use --reindex to replace the chunks of files that were indexed before, so
edited files leave no stale chunks behind.

Examples:
  semsearch index ./docs
  semsearch index ./src --tags project:api,lang:go
  semsearch index . --exclude "**/testdata/**" --reindex
  semsearch index . --repo-tag
  semsearch index ./notes --dry-run`

const indexShortDesc string = "Index files for semantic search"

var indexFlags = []string{
	config.FlagChunkSize,
	config.FlagChunkOverlap,
	config.FlagBatchSize,
	config.FlagPipelined,
	config.FlagVectorStoreProv,
	config.FlagVectorStoreTgt,
	config.FlagCollection,
	config.FlagEventsProvider,
	config.FlagEventsBrokers,
}

func NewIndexCmd() *cobra.Command {
	cmder := &indexCommander{}

	cmd := &cobra.Command{
		Use:          "index <path>",
		Short:        indexShortDesc,
		Long:         indexLongDesc,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args[0])
		},
	}

	cmd.Flags().StringVarP(&cmder.tags, "tags", "t", "", "Tags for every indexed chunk (comma separated key:value)")
	cmd.Flags().StringArrayVarP(&cmder.exclude, "exclude", "e", nil, "Glob pattern to exclude (repeatable)")
	cmd.Flags().BoolVar(&cmder.reindex, "reindex", false, "Replace previously indexed chunks of each file")
	cmd.Flags().BoolVar(&cmder.repoTag, "repo-tag", false, "Tag chunks with the git repository name")
	cmd.Flags().BoolVar(&cmder.dryRun, "dry-run", false, "List the files that would be indexed")

	config.AddIntFlag(cmd, config.Flags, config.FlagChunkSize, &cmder.chunkSize)
	config.AddIntFlag(cmd, config.Flags, config.FlagChunkOverlap, &cmder.chunkOverlap)
	config.AddIntFlag(cmd, config.Flags, config.FlagBatchSize, &cmder.batchSize)
	config.AddBoolFlag(cmd, config.Flags, config.FlagPipelined, &cmder.pipelined)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreProv, &cmder.storeProv)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreTgt, &cmder.storeTgt)
	config.AddStringFlag(cmd, config.Flags, config.FlagCollection, &cmder.collection)
	config.AddStringFlag(cmd, config.Flags, config.FlagEventsProvider, &cmder.eventsProv)
	config.AddStringSliceFlag(cmd, config.Flags, config.FlagEventsBrokers, &cmder.eventsBroker)

	return cmd
}

func (c *indexCommander) run(cmd *cobra.Command, path string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	env, err := cmdutil.Load(cmd, indexFlags...)
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

	root, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	if c.repoTag {
		dir := root
		if !info.IsDir() {
			dir = filepath.Dir(root)
		}
		tag, err := git.RepoTag(dir)
		if err != nil {
			return fmt.Errorf("deriving repo tag: %w", err)
		}
		tags = append(tags, tag)
	}

	eng, err := env.Engine(false)
	if err != nil {
		return err
	}
	defer eng.Close()

	src, err := eng.Source(root, c.exclude, tags)
	if err != nil {
		return err
	}

	if c.dryRun {
		files, err := src.Files(ctx)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Fprint(out, formatter.Message("No files found to index."))
			return nil
		}
		fmt.Fprint(out, formatter.Message(fmt.Sprintf("Dry run: would index %d files", len(files))))
		for _, f := range files {
			fmt.Fprintf(out, "  %s\n", f)
		}
		return nil
	}

	ix, err := eng.Indexer(ctx, c.reindex, nil)
	if err != nil {
		return err
	}

	var stats *indexer.Stats
	err = cliui.Step(cmd.ErrOrStderr(), "Indexing "+root, func() error {
		var err error
		stats, err = ix.IndexSource(ctx, src)
		return err
	})
	if stats != nil {
		fmt.Fprint(out, formatter.IndexStats(stats))
	}
	if err != nil {
		return err
	}
	if stats.ChunksFailed > 0 {
		return errors.New("some chunks failed to index")
	}
	return nil
}
