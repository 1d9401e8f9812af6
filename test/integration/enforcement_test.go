//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/kernwatch/kernd/internal/config"
	"github.com/kernwatch/kernd/internal/domain"
	"github.com/kernwatch/kernd/internal/killer"
	"github.com/kernwatch/kernd/internal/profile"
	"github.com/kernwatch/kernd/internal/usecase"
)

// fakeHost simulates a machine: a process table plus a temperature that
// the suite scripts over cycles.
type fakeHost struct {
	mu    sync.Mutex
	alive map[int32]domain.ProcessSample
	cpu   float64
	ram   float64
	temp  float64
}

func newFakeHost() *fakeHost {
	return &fakeHost{alive: map[int32]domain.ProcessSample{}}
}

func (h *fakeHost) spawn(pid int32, name string, memBytes uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alive[pid] = domain.ProcessSample{PID: pid, Name: name, MemoryBytes: memBytes}
}

func (h *fakeHost) running(pid int32) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.alive[pid]
	return ok
}

// Snapshot implements domain.SnapshotProvider.
func (h *fakeHost) Snapshot(ctx context.Context) (*domain.Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	procs := make([]domain.ProcessSample, 0, len(h.alive))
	for _, p := range h.alive {
		procs = append(procs, p)
	}
	// Descending memory order, as the real sampler guarantees.
	for i := 0; i < len(procs); i++ {
		for j := i + 1; j < len(procs); j++ {
			if procs[j].MemoryBytes > procs[i].MemoryBytes {
				procs[i], procs[j] = procs[j], procs[i]
			}
		}
	}

	return &domain.Snapshot{
		CPUPercent:    h.cpu,
		MemoryPercent: h.ram,
		Temperature:   h.temp,
		Processes:     procs,
		TakenAt:       time.Now(),
	}, nil
}

// Terminate implements domain.ProcessTable: every signal ends the fake
// process.
func (h *fakeHost) Terminate(pid int32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.alive, pid)
	return nil
}

func (h *fakeHost) Kill(pid int32) error { return h.Terminate(pid) }

func (h *fakeHost) Alive(pid int32) bool { return h.running(pid) }

func (h *fakeHost) FindByName(name string) ([]int32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var pids []int32
	for pid, p := range h.alive {
		if p.Name == name {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

type silentNotifier struct{}

func (silentNotifier) Notify(category domain.NotifyCategory, title, body string) {}

var _ = Describe("Enforcement", func() {
	var (
		host    *fakeHost
		engine  *usecase.Engine
		store   *profile.Store
		killLog *killer.Log
		tmpDir  string
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		profilesDir := filepath.Join(tmpDir, "profiles")
		Expect(os.MkdirAll(profilesDir, 0755)).To(Succeed())

		normal := `
name: "Normal"
protected:
  - terminal
limits:
  max_cpu_percent: 90
  max_ram_percent: 85
  max_temp: 85
`
		gaming := `
name: "Gaming"
kill_on_activate:
  - slack
limits:
  max_cpu_percent: 98
  max_ram_percent: 95
  max_temp: 95
`
		Expect(os.WriteFile(filepath.Join(profilesDir, "normal.yaml"), []byte(normal), 0644)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(profilesDir, "gaming.yaml"), []byte(gaming), 0644)).To(Succeed())

		logger := zap.NewNop()
		var err error
		store, err = profile.NewStore(tmpDir, "normal", logger)
		Expect(err).NotTo(HaveOccurred())

		host = newFakeHost()
		host.spawn(1, "systemd", 1<<20)
		host.spawn(100, "chrome", 4<<30)
		host.spawn(200, "slack", 2<<30)
		host.spawn(300, "terminal", 1<<30)

		cfg := &config.Config{
			DefaultProfile:  "normal",
			MonitorInterval: 2,
			Temperature:     config.TemperatureConfig{Warning: 75, Critical: 85},
			KillGraceful:    true,
		}

		kl := killer.New(host, killer.WithSleep(func(time.Duration) {}))
		killLog = killer.NewLog(filepath.Join(tmpDir, "kern.log"), logger)
		engine = usecase.NewEngine(cfg, store, host, kl, killLog, silentNotifier{}, logger)
	})

	Describe("thermal runaway", func() {
		It("enters emergency mode and kills every eligible process", func() {
			host.temp = 90

			Expect(engine.Cycle(context.Background())).To(Succeed())

			status := engine.Status()
			Expect(status.Emergency).To(BeTrue())
			Expect(status.EmergencySince).NotTo(BeZero())

			Expect(host.running(100)).To(BeFalse(), "chrome should be killed")
			Expect(host.running(200)).To(BeFalse(), "slack should be killed")
			Expect(host.running(1)).To(BeTrue(), "systemd is critical")
			Expect(host.running(300)).To(BeTrue(), "terminal is protected")
		})

		It("recovers once the temperature drops below the warning threshold", func() {
			host.temp = 90
			Expect(engine.Cycle(context.Background())).To(Succeed())
			Expect(engine.Status().Emergency).To(BeTrue())

			host.temp = 60
			Expect(engine.Cycle(context.Background())).To(Succeed())

			status := engine.Status()
			Expect(status.Emergency).To(BeFalse())
			Expect(status.EmergencySince).To(BeZero())
		})

		It("records every attempt in the kill log", func() {
			host.temp = 90
			Expect(engine.Cycle(context.Background())).To(Succeed())

			lines, err := killLog.Tail(0)
			Expect(err).NotTo(HaveOccurred())
			Expect(lines).To(HaveLen(2))
			Expect(lines[0]).To(ContainSubstring("status=ok"))
			Expect(lines[0]).To(ContainSubstring("graceful=true"))
		})
	})

	Describe("resource limits", func() {
		It("kills only the heaviest eligible process on a CPU breach", func() {
			host.cpu = 95
			host.temp = 60

			Expect(engine.Cycle(context.Background())).To(Succeed())

			Expect(host.running(100)).To(BeFalse(), "chrome is the heaviest eligible")
			Expect(host.running(200)).To(BeTrue())
			Expect(engine.Status().Emergency).To(BeFalse())
		})

		It("takes no action when nothing breaches", func() {
			host.cpu = 40
			host.ram = 40
			host.temp = 55

			Expect(engine.Cycle(context.Background())).To(Succeed())

			Expect(host.running(100)).To(BeTrue())
			Expect(host.running(200)).To(BeTrue())

			lines, err := killLog.Tail(0)
			Expect(err).NotTo(HaveOccurred())
			Expect(lines).To(BeEmpty())
		})
	})

	Describe("profile switching", func() {
		It("kills the kill_on_activate list and persists the selection", func() {
			p, err := engine.SwitchProfile("gaming")
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Name).To(Equal("Gaming"))

			Expect(host.running(200)).To(BeFalse(), "slack is on the kill_on_activate list")
			Expect(host.running(100)).To(BeTrue())

			state, err := os.ReadFile(filepath.Join(tmpDir, ".state"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(state)).To(Equal("gaming"))
		})

		It("rejects unknown profiles without side effects", func() {
			_, err := engine.SwitchProfile("quantum")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("gaming"))
			Expect(store.CurrentName()).To(Equal("normal"))
		})
	})

	Describe("concurrent status queries", func() {
		It("serves reads while cycles run", func() {
			host.temp = 90

			done := make(chan struct{})
			go func() {
				defer close(done)
				for i := 0; i < 50; i++ {
					_ = engine.Status()
				}
			}()

			for i := 0; i < 10; i++ {
				host.spawn(int32(1000+i), fmt.Sprintf("worker%d", i), 1<<20)
				Expect(engine.Cycle(context.Background())).To(Succeed())
			}
			Eventually(done).Should(BeClosed())
		})
	})
})
