// Package sysstats samples host load, memory and disk usage for the dashboard.
package sysstats

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Stats is a point-in-time sample. Percentages are 0..100 with one decimal.
type Stats struct {
	CPU         float64    `json:"cpu"`
	Memory      float64    `json:"memory"`
	Disk        float64    `json:"disk"`
	Uptime      int64      `json:"uptime"` // process uptime, seconds
	LoadAverage [3]float64 `json:"loadAverage"`
}

// Sampler collects Stats
type Sampler struct {
	started  time.Time
	diskPath string
	loadPath string
	numCPU   int
	now      func() time.Time
}

// NewSampler samples the filesystem holding diskPath; started anchors uptime
func NewSampler(started time.Time, diskPath string) *Sampler {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Sampler{
		started:  started,
		diskPath: diskPath,
		loadPath: "/proc/loadavg",
		numCPU:   runtime.NumCPU(),
		now:      time.Now,
	}
}

// Sample reads current usage. Individual probes that fail contribute zero;
// an error is returned only when every probe failed.
func (s *Sampler) Sample() (Stats, error) {
	stats := Stats{
		Uptime: int64(s.now().Sub(s.started).Seconds()),
	}

	var failures []string

	load, err := s.loadAverage()
	if err != nil {
		failures = append(failures, "load: "+err.Error())
	} else {
		stats.LoadAverage = load
		stats.CPU = clamp(round1(load[0] / float64(s.numCPU) * 100))
	}

	mem, err := memoryUsage()
	if err != nil {
		failures = append(failures, "memory: "+err.Error())
	} else {
		stats.Memory = mem
	}

	disk, err := diskUsage(s.diskPath)
	if err != nil {
		failures = append(failures, "disk: "+err.Error())
	} else {
		stats.Disk = disk
	}

	if len(failures) == 3 {
		return stats, fmt.Errorf("all system probes failed: %s", strings.Join(failures, "; "))
	}
	return stats, nil
}

// loadAverage prefers /proc/loadavg and falls back to sysinfo
func (s *Sampler) loadAverage() ([3]float64, error) {
	if data, err := os.ReadFile(s.loadPath); err == nil {
		if parsed, perr := parseLoadAvg(string(data)); perr == nil {
			return parsed, nil
		}
	}

	return sysLoad()
}

func parseLoadAvg(s string) ([3]float64, error) {
	var load [3]float64
	fields := strings.Fields(s)
	if len(fields) < 3 {
		return load, fmt.Errorf("unexpected loadavg format %q", s)
	}
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return load, fmt.Errorf("parse loadavg field %d: %w", i, err)
		}
		load[i] = v
	}
	return load, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func clamp(v float64) float64 {
	return math.Min(100, math.Max(0, v))
}
