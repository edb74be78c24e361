package statuscmder_test

import (
	"bytes"
	"encoding/json"

	"github.com/spf13/cobra"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	statuscmder "github.com/papercomputeco/semsearch/cmd/semsearch/status"
)

var _ = Describe("Status command", func() {
	var out *bytes.Buffer

	run := func(args ...string) error {
		root := &cobra.Command{Use: "semsearch", SilenceUsage: true, SilenceErrors: true}
		root.PersistentFlags().String("config-dir", GinkgoT().TempDir(), "")
		root.PersistentFlags().StringP("format", "f", "text", "")
		root.AddCommand(statuscmder.NewStatusCmd())
		root.SetOut(out)
		root.SetErr(out)
		root.SetArgs(append([]string{"status", "--vector-store-provider", "memory"}, args...))
		return root.Execute()
	}

	BeforeEach(func() {
		out = &bytes.Buffer{}
	})

	It("reports a stopped daemon as unhealthy without starting it", func() {
		Expect(run()).To(MatchError(statuscmder.ErrUnhealthy))
		Expect(out.String()).To(ContainSubstring("[STOPPED]"))
		Expect(out.String()).To(ContainSubstring("[CONNECTED]"))
	})

	It("renders json", func() {
		Expect(run("--format", "json")).To(MatchError(statuscmder.ErrUnhealthy))

		var decoded map[string]any
		Expect(json.Unmarshal(out.Bytes(), &decoded)).To(Succeed())
		Expect(decoded).To(HaveKey("daemon"))
		Expect(decoded).To(HaveKey("store"))
	})
})
