// Package initcmder provides the init command for initializing a local
// .semsearch directory in the current working directory.
package initcmder

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/semsearch/pkg/config"
	"github.com/papercomputeco/semsearch/pkg/dotdir"
)

const initLongDesc string = `Initialize a new .semsearch/ directory in the current working directory.

Creates a local .semsearch/ directory that takes precedence over the default
~/.semsearch/ directory for the daemon socket, vector database, configuration
and logs. This keeps a separate index per project.

A config.toml is written with default values. Use --preset to start from a
named embedding provider preset or a remote config.toml URL.

Examples:
  semsearch init
  semsearch init --preset openai
  semsearch init --preset https://example.com/semsearch/config.toml`

const initShortDesc string = "Initialize a local .semsearch/ directory"

const remoteFetchTimeout = 15 * time.Second

var presets = map[string]func(*config.Config){
	"ollama": func(c *config.Config) {
		c.Embedding.Provider = "ollama"
		c.Embedding.Target = "http://localhost:11434"
		c.Embedding.Model = "nomic-embed-text"
		c.Embedding.Dimensions = 768
	},
	"openai": func(c *config.Config) {
		c.Embedding.Provider = "openai"
		c.Embedding.Target = "https://api.openai.com/v1"
		c.Embedding.Model = "text-embedding-3-small"
		c.Embedding.Dimensions = 1536
	},
	"offline": func(c *config.Config) {
		c.Embedding.Provider = "hash"
		c.Embedding.Target = ""
		c.Embedding.Model = "hash"
		c.Embedding.Dimensions = 256
	},
}

func presetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type initCommander struct {
	preset string
}

func NewInitCmd() *cobra.Command {
	cmder := &initCommander{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&cmder.preset, "preset", "",
		fmt.Sprintf("Provider preset (%s) or URL of a config.toml", strings.Join(presetNames(), ", ")))

	return cmd
}

func (c *initCommander) run(ctx context.Context, out io.Writer) error {
	cfg, err := c.resolveConfig(ctx)
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	dir := filepath.Join(cwd, dotdir.DirName)
	if info, err := os.Stat(dir); err == nil && info.IsDir() && c.preset == "" {
		fmt.Fprintf(out, "Already initialized: %s\n", dir)
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating .semsearch directory: %w", err)
	}

	cfger, err := config.NewConfiger(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfger.SaveConfig(cfg); err != nil {
		return err
	}

	fmt.Fprintf(out, "Initialized .semsearch directory: %s\n", dir)
	return nil
}

func (c *initCommander) resolveConfig(ctx context.Context) (*config.Config, error) {
	switch {
	case c.preset == "":
		return config.NewDefaultConfig(), nil

	case strings.HasPrefix(c.preset, "http://"), strings.HasPrefix(c.preset, "https://"):
		return fetchRemoteConfig(ctx, c.preset)
	}

	apply, ok := presets[c.preset]
	if !ok {
		return nil, fmt.Errorf("unknown preset %q (available: %s)", c.preset, strings.Join(presetNames(), ", "))
	}

	cfg := config.NewDefaultConfig()
	apply(cfg)
	return cfg, nil
}

func fetchRemoteConfig(ctx context.Context, url string) (*config.Config, error) {
	ctx, cancel := context.WithTimeout(ctx, remoteFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building preset request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching preset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching preset: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading preset: %w", err)
	}

	cfg, err := config.ParseConfigTOML(data)
	if err != nil {
		return nil, fmt.Errorf("parsing preset: %w", err)
	}
	return cfg, nil
}
