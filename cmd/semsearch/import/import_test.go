package importcmder_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	importcmder "github.com/papercomputeco/semsearch/cmd/semsearch/import"
	"github.com/papercomputeco/semsearch/pkg/daemon"
	"github.com/papercomputeco/semsearch/pkg/embeddings/hash"
	"github.com/papercomputeco/semsearch/pkg/indexer"
	"github.com/papercomputeco/semsearch/pkg/lifecycle"
)

const testDims = 16

func newRoot(configDir string) *cobra.Command {
	root := &cobra.Command{Use: "semsearch", SilenceUsage: true, SilenceErrors: true}
	root.PersistentFlags().BoolP("debug", "d", false, "")
	root.PersistentFlags().String("config-dir", configDir, "")
	root.PersistentFlags().StringP("format", "f", "text", "")
	root.AddCommand(importcmder.NewImportCmd())
	return root
}

var _ = Describe("NewImportCmd", func() {
	It("accepts at most one input file", func() {
		cmd := importcmder.NewImportCmd()
		Expect(cmd.Args(cmd, []string{})).To(Succeed())
		Expect(cmd.Args(cmd, []string{"docs.jsonl"})).To(Succeed())
		Expect(cmd.Args(cmd, []string{"a", "b"})).To(HaveOccurred())
	})

	It("registers the import flags", func() {
		cmd := importcmder.NewImportCmd()
		for _, name := range []string{
			"tags", "source", "validate-only", "reindex",
			"chunk-size", "chunk-overlap", "batch-size", "pipelined",
			"embedding-dimensions", "vector-store-provider", "vector-store-target",
			"collection", "events-provider", "events-brokers",
		} {
			Expect(cmd.Flags().Lookup(name)).NotTo(BeNil(), name)
		}
		Expect(cmd.Flags().Lookup("source").DefValue).To(Equal(importcmder.DefaultSourceKind))
	})
})

var _ = Describe("Import command execution", func() {
	var (
		configDir string
		stdout    *bytes.Buffer
		stderr    *bytes.Buffer
	)

	run := func(stdin string, args ...string) error {
		root := newRoot(configDir)
		root.SetIn(strings.NewReader(stdin))
		root.SetOut(stdout)
		root.SetErr(stderr)
		root.SetArgs(append([]string{"import"}, args...))
		return root.Execute()
	}

	BeforeEach(func() {
		var err error
		// Unix socket paths are short; keep the directory under /tmp.
		configDir, err = os.MkdirTemp("/tmp", "ssi-*")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, configDir)
		stdout = &bytes.Buffer{}
		stderr = &bytes.Buffer{}
	})

	Context("with --validate-only", func() {
		It("counts the documents in a JSON array without indexing", func() {
			input := `[
				{"content": "Back off exponentially.", "url": "https://wiki/retry"},
				{"content": "Plain notes", "url": "https://wiki/notes", "tags": ["team:core"]},
				{"content": "", "url": "https://wiki/empty"}
			]`
			Expect(run(input, "--validate-only")).To(Succeed())
			Expect(stdout.String()).To(ContainSubstring("Validation successful: 2 documents ready for import"))
			Expect(stdout.String()).To(ContainSubstring("1 skipped without content or url"))
			_, err := os.Stat(filepath.Join(configDir, "vectors.db"))
			Expect(os.IsNotExist(err)).To(BeTrue())
		})

		It("reads the input file argument", func() {
			path := filepath.Join(configDir, "docs.jsonl")
			Expect(os.WriteFile(path, []byte(
				`{"content": "one", "url": "u1"}`+"\n\n"+`{"content": "two", "url": "u2"}`+"\n",
			), 0o644)).To(Succeed())

			Expect(run("", path, "--validate-only")).To(Succeed())
			Expect(stdout.String()).To(ContainSubstring("2 documents ready"))
		})

		It("accepts a single pretty-printed object", func() {
			input := "{\n  \"content\": \"one\",\n  \"url\": \"u1\"\n}\n"
			Expect(run(input, "--validate-only")).To(Succeed())
			Expect(stdout.String()).To(ContainSubstring("1 documents ready"))
		})

		It("reports the line of malformed JSONL", func() {
			input := `{"content": "one", "url": "u1"}` + "\n" + `{"content": ` + "\n"
			err := run(input, "--validate-only")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("line 2"))
		})

		It("rejects malformed record tags", func() {
			err := run(`{"content": "one", "url": "u1", "tags": ["no-colon"]}`, "--validate-only")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("record 1"))
		})

		It("rejects malformed --tags", func() {
			err := run(`{"content": "one", "url": "u1"}`, "--validate-only", "--tags", "no-colon")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("parsing tags"))
		})

		It("says so when the input is empty", func() {
			Expect(run("  \n", "--validate-only")).To(Succeed())
			Expect(stdout.String()).To(ContainSubstring("No documents found in input."))
		})
	})

	Context("with a running embedding daemon", func() {
		BeforeEach(func() {
			model, err := daemon.NewModel(daemon.ModelConfig{
				Embedder:   hash.NewEmbedder(testDims),
				ModelID:    "test-model",
				Dimensions: testDims,
			})
			Expect(err).NotTo(HaveOccurred())
			lm := lifecycle.ForDir(configDir)
			server, err := daemon.New(daemon.Config{
				Model:       model,
				Lifecycle:   lm,
				IdleTimeout: -1,
			})
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				_ = server.Serve(ctx)
			}()
			DeferCleanup(func() {
				cancel()
				Eventually(done, 5*time.Second).Should(BeClosed())
			})

			// Once the socket exists the command waits for the daemon
			// instead of starting its own.
			Eventually(func() error {
				_, err := os.Stat(lm.SocketPath)
				return err
			}, 5*time.Second, 10*time.Millisecond).Should(Succeed())
		})

		It("indexes JSONL read from stdin", func() {
			input := strings.Join([]string{
				`{"content": "Back off exponentially between retries.", "url": "https://wiki/retry", "source_type": "confluence"}`,
				`{"content": "Rotate the signing keys every quarter.", "url": "https://wiki/keys", "tags": ["team:sec"]}`,
				`{"content": "no url here"}`,
			}, "\n")

			Expect(run(input,
				"-f", "json",
				"--source", "wiki",
				"--tags", "import:test",
				"--vector-store-provider", "memory",
				"--embedding-dimensions", "16",
			)).To(Succeed())

			var stats indexer.Stats
			Expect(json.Unmarshal(stdout.Bytes(), &stats)).To(Succeed())
			Expect(stats.FilesScanned).To(Equal(3))
			Expect(stats.FilesIndexed).To(Equal(2))
			Expect(stats.FilesSkipped).To(Equal(1))
			Expect(stats.ChunksCreated).To(Equal(2))
			Expect(stats.ChunksStored).To(Equal(2))
			Expect(stats.ChunksFailed).To(BeZero())
		})
	})
})
