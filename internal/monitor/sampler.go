// Package monitor implements the snapshot provider on top of gopsutil.
package monitor

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/kernwatch/kernd/internal/domain"
)

// cpuSampleWindow is the measurement window for the global CPU reading.
const cpuSampleWindow = 200 * time.Millisecond

// thermalZonePattern enumerates sysfs thermal zones for the fallback
// temperature read when gopsutil reports no sensors.
const thermalZonePattern = "/sys/class/thermal/thermal_zone%d/temp"

// Sampler implements domain.SnapshotProvider using live OS data.
type Sampler struct{}

// NewSampler creates a snapshot provider backed by the OS.
func NewSampler() *Sampler {
	return &Sampler{}
}

// Snapshot collects CPU, memory, temperature and the process list in
// descending memory order. Any collection failure is a transient error;
// the caller skips the cycle and retries at the next tick.
func (s *Sampler) Snapshot(ctx context.Context) (*domain.Snapshot, error) {
	cpuPercents, err := cpu.PercentWithContext(ctx, cpuSampleWindow, false)
	if err != nil {
		return nil, fmt.Errorf("sample cpu: %w", err)
	}
	var cpuPercent float64
	if len(cpuPercents) > 0 {
		cpuPercent = cpuPercents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("sample memory: %w", err)
	}

	procs, err := listProcesses(ctx)
	if err != nil {
		return nil, fmt.Errorf("sample processes: %w", err)
	}

	return &domain.Snapshot{
		CPUPercent:    cpuPercent,
		MemoryPercent: vm.UsedPercent,
		MemoryTotal:   vm.Total,
		MemoryUsed:    vm.Used,
		Temperature:   s.Temperature(ctx),
		Processes:     procs,
		TakenAt:       time.Now(),
	}, nil
}

// Temperature reads the CPU temperature, preferring gopsutil sensors
// and falling back to sysfs thermal zones. Returns 0 when no sensor is
// readable (headless or containerized hosts).
func (s *Sampler) Temperature(ctx context.Context) float64 {
	if temps, err := host.SensorsTemperaturesWithContext(ctx); err == nil {
		for _, t := range temps {
			key := strings.ToLower(t.SensorKey)
			if strings.Contains(key, "coretemp") || strings.Contains(key, "k10temp") ||
				strings.Contains(key, "cpu") || strings.Contains(key, "x86_pkg_temp") {
				if t.Temperature > 0 {
					return t.Temperature
				}
			}
		}
	}
	return readThermalZones()
}

func readThermalZones() float64 {
	for i := 0; i < 10; i++ {
		data, err := os.ReadFile(fmt.Sprintf(thermalZonePattern, i))
		if err != nil {
			continue
		}
		if milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64); err == nil && milli > 0 {
			return milli / 1000.0
		}
	}
	return 0
}

func listProcesses(ctx context.Context) ([]domain.ProcessSample, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	samples := make([]domain.ProcessSample, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue // process exited mid-scan
		}

		var memBytes uint64
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
			memBytes = mi.RSS
		}

		cpuPct, _ := p.CPUPercentWithContext(ctx)

		samples = append(samples, domain.ProcessSample{
			PID:         p.Pid,
			Name:        name,
			MemoryBytes: memBytes,
			CPUPercent:  cpuPct,
		})
	}

	SortByMemory(samples)
	return samples, nil
}

// SortByMemory orders samples by descending memory usage, the order the
// engine scans when selecting the heaviest eligible process.
func SortByMemory(samples []domain.ProcessSample) {
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].MemoryBytes > samples[j].MemoryBytes
	})
}

// ThermalZone describes one sysfs thermal zone (for the debug command).
type ThermalZone struct {
	Index int
	Type  string
	TempC float64
}

// ThermalZones lists readable thermal zones with their type and current
// reading.
func ThermalZones() []ThermalZone {
	var zones []ThermalZone
	for i := 0; i < 10; i++ {
		typeData, err := os.ReadFile(fmt.Sprintf("/sys/class/thermal/thermal_zone%d/type", i))
		if err != nil {
			continue
		}
		tempData, err := os.ReadFile(fmt.Sprintf(thermalZonePattern, i))
		if err != nil {
			continue
		}
		milli, err := strconv.ParseFloat(strings.TrimSpace(string(tempData)), 64)
		if err != nil {
			continue
		}
		zones = append(zones, ThermalZone{
			Index: i,
			Type:  strings.TrimSpace(string(typeData)),
			TempC: milli / 1000.0,
		})
	}
	return zones
}

// Ensure Sampler implements domain.SnapshotProvider.
var _ domain.SnapshotProvider = (*Sampler)(nil)
