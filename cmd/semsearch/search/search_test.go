package searchcmder_test

import (
	"bytes"

	"github.com/spf13/cobra"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	searchcmder "github.com/papercomputeco/semsearch/cmd/semsearch/search"
	"github.com/papercomputeco/semsearch/pkg/document"
	"github.com/papercomputeco/semsearch/pkg/search"
)

func newRoot(configDir string) *cobra.Command {
	root := &cobra.Command{Use: "semsearch", SilenceUsage: true, SilenceErrors: true}
	root.PersistentFlags().BoolP("debug", "d", false, "")
	root.PersistentFlags().String("config-dir", configDir, "")
	root.PersistentFlags().StringP("format", "f", "text", "")
	root.AddCommand(searchcmder.NewSearchCmd())
	return root
}

var _ = Describe("NewSearchCmd", func() {
	It("requires exactly one query argument", func() {
		cmd := searchcmder.NewSearchCmd()
		Expect(cmd.Args(cmd, []string{})).To(HaveOccurred())
		Expect(cmd.Args(cmd, []string{"retry"})).To(Succeed())
	})

	It("registers the filter flags with shorthands", func() {
		cmd := searchcmder.NewSearchCmd()
		Expect(cmd.Flags().ShorthandLookup("t").Name).To(Equal("tags"))
		Expect(cmd.Flags().ShorthandLookup("s").Name).To(Equal("source"))
		Expect(cmd.Flags().ShorthandLookup("n").Name).To(Equal("limit"))
		Expect(cmd.Flags().Lookup("min-score")).NotTo(BeNil())
	})
})

var _ = Describe("Search command execution", func() {
	var (
		configDir string
		out       *bytes.Buffer
	)

	run := func(args ...string) error {
		root := newRoot(configDir)
		root.SetOut(out)
		root.SetErr(out)
		root.SetArgs(append([]string{"search", "--vector-store-provider", "memory"}, args...))
		return root.Execute()
	}

	BeforeEach(func() {
		configDir = GinkgoT().TempDir()
		out = &bytes.Buffer{}
	})

	It("rejects a blank query before contacting the daemon", func() {
		Expect(run("   ")).To(MatchError(search.ErrEmptyQuery))
	})

	It("rejects malformed tag filters", func() {
		Expect(run("retry", "--tags", "broken")).To(MatchError(document.ErrInvalidTag))
	})

	It("rejects an unknown output format", func() {
		err := run("retry", "--format", "yaml")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("unknown output format"))
	})
})
