package lifecycle_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/semsearch/pkg/lifecycle"
)

var _ = Describe("Manager", func() {
	var tempDir string

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "semsearch-lifecycle-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if tempDir != "" {
			Expect(os.RemoveAll(tempDir)).To(Succeed())
		}
	})

	It("lays out its files inside the directory", func() {
		manager, err := lifecycle.NewManager(tempDir)
		Expect(err).NotTo(HaveOccurred())

		for _, p := range []string{
			manager.SocketPath, manager.StatePath, manager.LogPath,
			manager.LockPath, manager.SpawnLockPath, manager.MetricsPath,
		} {
			Expect(filepath.Dir(p)).To(Equal(manager.Dir))
		}
	})

	It("saves and loads state", func() {
		manager, err := lifecycle.NewManager(tempDir)
		Expect(err).NotTo(HaveOccurred())

		started := time.Now().Add(-time.Minute).Truncate(time.Second)
		Expect(manager.SaveState(&lifecycle.State{
			PID:        123,
			ModelID:    "bge-m3",
			Dimensions: 1024,
			StartedAt:  started,
		})).To(Succeed())

		loaded, err := manager.LoadState()
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded).NotTo(BeNil())
		Expect(loaded.Version).To(Equal(1))
		Expect(loaded.PID).To(Equal(123))
		Expect(loaded.ModelID).To(Equal("bge-m3"))
		Expect(loaded.Dimensions).To(Equal(1024))
		Expect(loaded.StartedAt.Equal(started)).To(BeTrue())
		Expect(loaded.Socket).To(Equal(manager.SocketPath))
		Expect(loaded.LogPath).To(Equal(filepath.Join(manager.Dir, "daemon.log")))
	})

	It("returns nil state when none was saved", func() {
		manager, err := lifecycle.NewManager(tempDir)
		Expect(err).NotTo(HaveOccurred())

		loaded, err := manager.LoadState()
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded).To(BeNil())
	})

	It("clears state", func() {
		manager, err := lifecycle.NewManager(tempDir)
		Expect(err).NotTo(HaveOccurred())

		Expect(manager.SaveState(&lifecycle.State{PID: 1})).To(Succeed())
		Expect(manager.ClearState()).To(Succeed())
		Expect(manager.ClearState()).To(Succeed())

		loaded, err := manager.LoadState()
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded).To(BeNil())
	})

	It("locks and releases", func() {
		manager, err := lifecycle.NewManager(tempDir)
		Expect(err).NotTo(HaveOccurred())

		lock, err := manager.Lock()
		Expect(err).NotTo(HaveOccurred())
		Expect(lock).NotTo(BeNil())
		Expect(lock.Release()).To(Succeed())
		Expect(lock.Release()).To(Succeed())
	})

	It("grants daemon ownership to one holder at a time", func() {
		manager := lifecycle.ForDir(tempDir)

		owner, err := manager.TryOwn()
		Expect(err).NotTo(HaveOccurred())

		_, err = manager.TryOwn()
		Expect(err).To(MatchError(lifecycle.ErrLocked))

		Expect(owner.Release()).To(Succeed())

		again, err := manager.TryOwn()
		Expect(err).NotTo(HaveOccurred())
		Expect(again.Release()).To(Succeed())
	})

	It("removes the socket idempotently", func() {
		manager := lifecycle.ForDir(tempDir)
		Expect(os.WriteFile(manager.SocketPath, nil, 0o600)).To(Succeed())
		Expect(manager.RemoveSocket()).To(Succeed())
		Expect(manager.RemoveSocket()).To(Succeed())
		Expect(manager.SocketPath).NotTo(BeAnExistingFile())
	})
})

var _ = Describe("ProcessAlive", func() {
	It("reports the current process as alive", func() {
		Expect(lifecycle.ProcessAlive(os.Getpid())).To(BeTrue())
	})

	It("rejects non-positive pids", func() {
		Expect(lifecycle.ProcessAlive(0)).To(BeFalse())
		Expect(lifecycle.ProcessAlive(-1)).To(BeFalse())
	})
})
