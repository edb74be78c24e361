// Package configcmder provides the config command for managing persistent
// semsearch configuration stored in the .semsearch/ directory.
package configcmder

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/semsearch/pkg/cliui"
	"github.com/papercomputeco/semsearch/pkg/config"
)

const configLongDesc string = `Manage persistent semsearch configuration.

Configuration is stored as config.toml in the .semsearch/ directory and
provides default values for command flags. CLI flags and SEMSEARCH_*
environment variables take precedence over config file values.

Keys use dotted notation matching the TOML section structure, for example:
  daemon.idle_timeout, daemon.concurrency,
  embedding.provider, embedding.model, embedding.dimensions,
  vector_store.provider, vector_store.target, vector_store.collection,
  indexing.chunk_size, indexing.exclude, search.default_limit,
  api.listen, events.provider

Use subcommands to get, set, or list configuration values:
  semsearch config set <key> <value>    Set a configuration value
  semsearch config get <key>            Get a configuration value
  semsearch config unset <key>          Reset a value to its default
  semsearch config list                 List all configuration values

Examples:
  semsearch config set embedding.model nomic-embed-text
  semsearch config set vector_store.provider qdrant
  semsearch config get daemon.idle_timeout
  semsearch config list`

const configShortDesc string = "Manage persistent semsearch configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newUnsetCmd())

	return cmd
}

func validateKey(key string) error {
	if !config.IsValidConfigKey(key) {
		return fmt.Errorf("unknown config key: %q\n\nValid keys: %s",
			key, strings.Join(config.ValidConfigKeys(), ", "))
	}
	return nil
}

func completeKeys(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return config.ValidConfigKeys(), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

func printTarget(out io.Writer, cfger *config.Configer) {
	if target := cfger.GetTarget(); target != "" {
		fmt.Fprintf(out, "\n  %s %s\n\n",
			cliui.KeyStyle.Render("Config file:"),
			cliui.DimStyle.Render(target),
		)
		return
	}
	fmt.Fprintf(out, "\n  %s\n\n", cliui.DimStyle.Render("No config file found. Using defaults."))
}

// redact hides secrets when printing values.
func redact(key, value string) string {
	if value == "" || !strings.HasSuffix(key, "api_key") {
		return value
	}
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}
