//go:build linux

package sysstats

import (
	"fmt"
	"math"

	"golang.org/x/sys/unix"
)

func sysLoad() ([3]float64, error) {
	var load [3]float64
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return load, fmt.Errorf("sysinfo: %w", err)
	}
	const scale = 1 << 16 // SI_LOAD_SHIFT
	for i := range load {
		load[i] = float64(info.Loads[i]) / scale
	}
	return load, nil
}

func memoryUsage() (float64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, fmt.Errorf("sysinfo: %w", err)
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	total := uint64(info.Totalram) * unit
	free := (uint64(info.Freeram) + uint64(info.Bufferram)) * unit
	if total == 0 {
		return 0, fmt.Errorf("sysinfo reported zero total memory")
	}
	return round1(float64(total-free) / float64(total) * 100), nil
}

func diskUsage(path string) (float64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := uint64(st.Bsize)
	total := st.Blocks * bsize
	avail := st.Bavail * bsize
	free := st.Bfree * bsize
	used := total - free
	// same denominator df uses: space visible to unprivileged users
	denom := used + avail
	if denom == 0 {
		return 0, nil
	}
	return math.Ceil(float64(used) / float64(denom) * 100), nil
}
