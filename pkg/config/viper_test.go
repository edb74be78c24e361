package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/semsearch/pkg/config"
)

var _ = Describe("InitViper", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "viper-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("returns viper with defaults when no config file exists", func() {
		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cfg := config.FromViper(v)
		defaults := config.NewDefaultConfig()
		Expect(cfg.Daemon).To(Equal(defaults.Daemon))
		Expect(cfg.Embedding).To(Equal(defaults.Embedding))
		Expect(cfg.VectorStore).To(Equal(defaults.VectorStore))
		Expect(cfg.Indexing).To(Equal(defaults.Indexing))
		Expect(cfg.Retry).To(Equal(defaults.Retry))
		Expect(cfg.API).To(Equal(defaults.API))
	})

	It("reads config file values over defaults", func() {
		data := `[vector_store]
provider = "postgres"

[daemon]
idle_timeout = "90s"
`
		Expect(os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)).To(Succeed())

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cfg := config.FromViper(v)
		Expect(cfg.VectorStore.Provider).To(Equal("postgres"))
		Expect(cfg.Daemon.IdleTimeout.Duration).To(Equal(90 * time.Second))
		Expect(cfg.VectorStore.Collection).To(Equal(config.NewDefaultConfig().VectorStore.Collection))
	})

	It("respects environment variables with SEMSEARCH_ prefix", func() {
		GinkgoT().Setenv("SEMSEARCH_VECTOR_STORE_PROVIDER", "qdrant")
		GinkgoT().Setenv("SEMSEARCH_DAEMON_CONCURRENCY", "3")

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cfg := config.FromViper(v)
		Expect(cfg.VectorStore.Provider).To(Equal("qdrant"))
		Expect(cfg.Daemon.Concurrency).To(Equal(3))
	})

	It("env vars take precedence over config file values", func() {
		data := `[embedding]
model = "bge-small"
`
		Expect(os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)).To(Succeed())
		GinkgoT().Setenv("SEMSEARCH_EMBEDDING_MODEL", "bge-large")

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		Expect(v.GetString("embedding.model")).To(Equal("bge-large"))
	})
})

var _ = Describe("BindFlags", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "bindflag-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("binds cobra flags to viper keys via registry", func() {
		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cmd := &cobra.Command{Use: "test"}
		var listen string
		config.AddStringFlag(cmd, config.Flags, config.FlagAPIListen, &listen)

		Expect(cmd.Flags().Set("listen", ":7777")).To(Succeed())
		config.BindRegisteredFlags(v, cmd, config.Flags, []string{config.FlagAPIListen})

		Expect(v.GetString("api.listen")).To(Equal(":7777"))
	})

	It("falls through to config when flag not set", func() {
		data := `[api]
listen = ":5555"
`
		Expect(os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)).To(Succeed())

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cmd := &cobra.Command{Use: "test"}
		var listen string
		config.AddStringFlag(cmd, config.Flags, config.FlagAPIListen, &listen)
		config.BindRegisteredFlags(v, cmd, config.Flags, []string{config.FlagAPIListen})

		Expect(v.GetString("api.listen")).To(Equal(":5555"))
	})

	It("skips bindings for nonexistent registry keys", func() {
		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		cmd := &cobra.Command{Use: "test"}
		config.BindRegisteredFlags(v, cmd, config.Flags, []string{"nonexistent"})

		Expect(v.GetString("api.listen")).To(Equal(config.NewDefaultConfig().API.Listen))
	})

	It("AddStringFlag pulls name, shorthand, and description from FlagSet", func() {
		cmd := &cobra.Command{Use: "test"}
		var model string
		config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingModel, &model)

		f := cmd.Flags().Lookup("embedding-model")
		Expect(f).NotTo(BeNil())
		Expect(f.Shorthand).To(Equal("m"))
		Expect(f.Usage).To(Equal("Embedding model name"))
		Expect(f.DefValue).To(Equal(config.NewDefaultConfig().Embedding.Model))
	})

	It("registers typed flags with their defaults", func() {
		cmd := &cobra.Command{Use: "test"}
		var (
			dims      uint
			size      int
			pipelined bool
			idle      time.Duration
			brokers   []string
		)
		config.AddUintFlag(cmd, config.Flags, config.FlagEmbeddingDims, &dims)
		config.AddIntFlag(cmd, config.Flags, config.FlagChunkSize, &size)
		config.AddBoolFlag(cmd, config.Flags, config.FlagPipelined, &pipelined)
		config.AddDurationFlag(cmd, config.Flags, config.FlagIdleTimeout, &idle)
		config.AddStringSliceFlag(cmd, config.Flags, config.FlagEventsBrokers, &brokers)

		Expect(dims).To(Equal(uint(1024)))
		Expect(size).To(Equal(6000))
		Expect(pipelined).To(BeFalse())
		Expect(idle).To(Equal(10 * time.Minute))
		Expect(brokers).To(BeEmpty())
	})
})
