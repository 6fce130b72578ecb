package pipeline

import (
	"runtime"

	"github.com/prometheus/procfs"
)

// Memory is a point-in-time view of process memory.
type Memory struct {
	RSS     uint64  `json:"rss_bytes"`
	Total   uint64  `json:"total_bytes"`
	Percent float64 `json:"percent"`
	Source  string  `json:"source"`
}

// RSSMB returns the resident set size in MiB.
func (m Memory) RSSMB() float64 {
	return float64(m.RSS) / (1 << 20)
}

// SampleMemory reads resident memory and total system memory from /proc.
// Where /proc is unavailable it falls back to the Go runtime's view, in which
// case Percent is 0.
func SampleMemory() Memory {
	var m Memory
	if fs, err := procfs.NewDefaultFS(); err == nil {
		if proc, err := fs.Self(); err == nil {
			if stat, err := proc.Stat(); err == nil {
				m.RSS = uint64(stat.ResidentMemory())
				m.Source = "procfs"
			}
		}
		if info, err := fs.Meminfo(); err == nil && info.MemTotal != nil {
			m.Total = *info.MemTotal * 1024 // kB
		}
	}

	if m.RSS == 0 {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		m.RSS = ms.Sys
		m.Source = "runtime"
	}
	if m.Total > 0 {
		m.Percent = float64(m.RSS) / float64(m.Total) * 100
	}
	return m
}
