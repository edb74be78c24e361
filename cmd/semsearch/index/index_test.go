package indexcmder_test

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	indexcmder "github.com/papercomputeco/semsearch/cmd/semsearch/index"
)

func newRoot(configDir string) *cobra.Command {
	root := &cobra.Command{Use: "semsearch", SilenceUsage: true, SilenceErrors: true}
	root.PersistentFlags().BoolP("debug", "d", false, "")
	root.PersistentFlags().String("config-dir", configDir, "")
	root.PersistentFlags().StringP("format", "f", "text", "")
	root.AddCommand(indexcmder.NewIndexCmd())
	return root
}

var _ = Describe("NewIndexCmd", func() {
	It("requires exactly one path", func() {
		cmd := indexcmder.NewIndexCmd()
		Expect(cmd.Args(cmd, []string{})).To(HaveOccurred())
		Expect(cmd.Args(cmd, []string{"a", "b"})).To(HaveOccurred())
		Expect(cmd.Args(cmd, []string{"a"})).To(Succeed())
	})

	It("registers the indexing flags", func() {
		cmd := indexcmder.NewIndexCmd()
		for _, name := range []string{
			"tags", "exclude", "reindex", "dry-run", "repo-tag",
			"chunk-size", "chunk-overlap", "batch-size", "pipelined",
			"vector-store-provider", "vector-store-target", "collection",
			"events-provider", "events-brokers",
		} {
			Expect(cmd.Flags().Lookup(name)).NotTo(BeNil(), name)
		}
	})
})

var _ = Describe("Index command execution", func() {
	var (
		configDir string
		docs      string
		out       *bytes.Buffer
	)

	run := func(args ...string) error {
		root := newRoot(configDir)
		root.SetOut(out)
		root.SetErr(out)
		root.SetArgs(append([]string{"index"}, args...))
		return root.Execute()
	}

	BeforeEach(func() {
		configDir = GinkgoT().TempDir()
		docs = GinkgoT().TempDir()
		out = &bytes.Buffer{}

		Expect(os.WriteFile(filepath.Join(docs, "retry.md"), []byte("# Retry\n\nBack off exponentially."), 0o644)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(docs, "notes.txt"), []byte("plain notes"), 0o644)).To(Succeed())
	})

	It("lists files without indexing on --dry-run", func() {
		Expect(run(docs, "--dry-run", "--vector-store-provider", "memory")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("Dry run: would index 2 files"))
		Expect(out.String()).To(ContainSubstring("retry.md"))
		Expect(out.String()).To(ContainSubstring("notes.txt"))
	})

	It("honours --exclude on --dry-run", func() {
		Expect(run(docs, "--dry-run", "--exclude", "**/*.txt", "--vector-store-provider", "memory")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("would index 1 files"))
		Expect(out.String()).NotTo(ContainSubstring("notes.txt"))
	})

	It("rejects malformed tags", func() {
		err := run(docs, "--tags", "no-colon", "--dry-run")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("parsing tags"))
	})

	It("rejects a missing path", func() {
		err := run(filepath.Join(docs, "missing"), "--dry-run")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("invalid path"))
	})
})
