// Package importcmder provides the import command for indexing documents
// supplied as JSON or JSONL.
package importcmder

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/semsearch/cmd/semsearch/cmdutil"
	"github.com/papercomputeco/semsearch/pkg/cliui"
	"github.com/papercomputeco/semsearch/pkg/config"
	"github.com/papercomputeco/semsearch/pkg/document"
	"github.com/papercomputeco/semsearch/pkg/indexer"
)

// DefaultSourceKind is the kind given to records without a source_type.
const DefaultSourceKind = "custom"

type importCommander struct {
	tags         string
	source       string
	validateOnly bool
	reindex      bool

	chunkSize    int
	chunkOverlap int
	batchSize    int
	pipelined    bool
	embedDims    uint
	storeProv    string
	storeTgt     string
	collection   string
	eventsProv   string
	eventsBroker []string
}

const importLongDesc string = `Import documents from a JSON or JSONL file, or stdin.

The input is a JSON array of documents, a single document, or one document
per line. Each document has:

  content      Text to index (required)
  url          Where the document lives, used as its identity (required)
  title        Optional title
  path         Optional path
  tags         Optional list of key:value tags
  source_type  Optional source kind, defaulting to --source

Documents missing content or url are skipped. Tags given with --tags are
added to every document.

Examples:
  semsearch import pages.jsonl --source wiki
  cat tickets.json | semsearch import --tags team:core
  semsearch import export.jsonl --validate-only`

const importShortDesc string = "Import JSON or JSONL documents"

var importFlags = []string{
	config.FlagChunkSize,
	config.FlagChunkOverlap,
	config.FlagBatchSize,
	config.FlagPipelined,
	config.FlagEmbeddingDims,
	config.FlagVectorStoreProv,
	config.FlagVectorStoreTgt,
	config.FlagCollection,
	config.FlagEventsProvider,
	config.FlagEventsBrokers,
}

func NewImportCmd() *cobra.Command {
	cmder := &importCommander{}

	cmd := &cobra.Command{
		Use:          "import [file|-]",
		Short:        importShortDesc,
		Long:         importLongDesc,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			file := ""
			if len(args) == 1 {
				file = args[0]
			}
			return cmder.run(cmd, file)
		},
	}

	cmd.Flags().StringVarP(&cmder.tags, "tags", "t", "", "Tags for every imported document (comma separated key:value)")
	cmd.Flags().StringVar(&cmder.source, "source", DefaultSourceKind, "Source kind for documents without source_type")
	cmd.Flags().BoolVar(&cmder.validateOnly, "validate-only", false, "Check the input without indexing it")
	cmd.Flags().BoolVar(&cmder.reindex, "reindex", false, "Replace previously imported chunks of each document")

	config.AddIntFlag(cmd, config.Flags, config.FlagChunkSize, &cmder.chunkSize)
	config.AddIntFlag(cmd, config.Flags, config.FlagChunkOverlap, &cmder.chunkOverlap)
	config.AddIntFlag(cmd, config.Flags, config.FlagBatchSize, &cmder.batchSize)
	config.AddBoolFlag(cmd, config.Flags, config.FlagPipelined, &cmder.pipelined)
	config.AddUintFlag(cmd, config.Flags, config.FlagEmbeddingDims, &cmder.embedDims)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreProv, &cmder.storeProv)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreTgt, &cmder.storeTgt)
	config.AddStringFlag(cmd, config.Flags, config.FlagCollection, &cmder.collection)
	config.AddStringFlag(cmd, config.Flags, config.FlagEventsProvider, &cmder.eventsProv)
	config.AddStringSliceFlag(cmd, config.Flags, config.FlagEventsBrokers, &cmder.eventsBroker)

	return cmd
}

func (c *importCommander) run(cmd *cobra.Command, file string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	formatter, err := cmdutil.Formatter(cmd)
	if err != nil {
		return err
	}

	tags, err := document.ParseTags(c.tags)
	if err != nil {
		return fmt.Errorf("parsing tags: %w", err)
	}
	kind := document.ParseSourceKind(c.source)
	if kind == "" {
		return errors.New("--source must not be empty")
	}

	records, err := c.read(cmd, file)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprint(out, formatter.Message("No documents found in input."))
		return nil
	}

	docs := make([]*document.Document, 0, len(records))
	skipped := 0
	for _, rec := range records {
		doc, err := rec.toDocument(kind, tags)
		if errors.Is(err, errIncomplete) {
			skipped++
			continue
		}
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}

	if c.validateOnly {
		msg := fmt.Sprintf("Validation successful: %d documents ready for import", len(docs))
		if skipped > 0 {
			msg += fmt.Sprintf(", %d skipped without content or url", skipped)
		}
		fmt.Fprint(out, formatter.Message(msg))
		return nil
	}

	env, err := cmdutil.Load(cmd, importFlags...)
	if err != nil {
		return err
	}
	eng, err := env.Engine(false)
	if err != nil {
		return err
	}
	defer eng.Close()

	ix, err := eng.Indexer(ctx, c.reindex, nil)
	if err != nil {
		return err
	}

	var stats *indexer.Stats
	err = cliui.Step(cmd.ErrOrStderr(), fmt.Sprintf("Importing %d documents", len(docs)), func() error {
		var err error
		stats, err = ix.Index(ctx, docs)
		return err
	})
	if stats != nil {
		stats.FilesScanned += skipped
		stats.FilesSkipped += skipped
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

// read parses file, or stdin when file is empty or "-".
func (c *importCommander) read(cmd *cobra.Command, file string) ([]record, error) {
	var r io.Reader = cmd.InOrStdin()
	if file != "" && file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()
		r = f
	}
	return parseRecords(r)
}
