// Package semsearchcmder
package semsearchcmder

import (
	"github.com/spf13/cobra"

	apicmder "github.com/papercomputeco/semsearch/cmd/semsearch/api"
	configcmder "github.com/papercomputeco/semsearch/cmd/semsearch/config"
	deletecmder "github.com/papercomputeco/semsearch/cmd/semsearch/delete"
	importcmder "github.com/papercomputeco/semsearch/cmd/semsearch/import"
	indexcmder "github.com/papercomputeco/semsearch/cmd/semsearch/index"
	initcmder "github.com/papercomputeco/semsearch/cmd/semsearch/init"
	searchcmder "github.com/papercomputeco/semsearch/cmd/semsearch/search"
	servecmder "github.com/papercomputeco/semsearch/cmd/semsearch/serve"
	statuscmder "github.com/papercomputeco/semsearch/cmd/semsearch/status"
	stopcmder "github.com/papercomputeco/semsearch/cmd/semsearch/stop"
	tagscmder "github.com/papercomputeco/semsearch/cmd/semsearch/tags"
	versioncmder "github.com/papercomputeco/semsearch/cmd/version"
	"github.com/papercomputeco/semsearch/pkg/cliui"
)

const semsearchLongDesc string = `Semsearch is local semantic search over your files.

An embedding daemon is started on demand and shared by every command through
a unix socket in the .semsearch/ directory. It exits after a period of
inactivity.

Get started:
  semsearch index ./docs --tags docs     Chunk, embed and store a directory
  semsearch import pages.jsonl           Index documents exported as JSONL
  semsearch search "retry with backoff"  Search the indexed chunks
  semsearch status                       Show daemon and vector store status

Run services using:
  semsearch serve        Start the embedding daemon in the background
  semsearch serve stop   Stop the embedding daemon
  semsearch api          Run the HTTP API and MCP server`

const semsearchShortDesc string = "Semsearch - local semantic search"

func NewSemsearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "semsearch",
		Short:         semsearchShortDesc,
		Long:          semsearchLongDesc,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to the .semsearch/ directory")
	cmd.PersistentFlags().StringP("format", "f", string(cliui.FormatText), "Output format (text, json, markdown)")

	// Add subcommands
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(stopcmder.NewStopCmd())
	cmd.AddCommand(statuscmder.NewStatusCmd())
	cmd.AddCommand(indexcmder.NewIndexCmd())
	cmd.AddCommand(importcmder.NewImportCmd())
	cmd.AddCommand(searchcmder.NewSearchCmd())
	cmd.AddCommand(deletecmder.NewDeleteCmd())
	cmd.AddCommand(tagscmder.NewTagsCmd())
	cmd.AddCommand(apicmder.NewAPICmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
