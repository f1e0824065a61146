// Package sysmetrics samples process-level CPU and memory usage for the
// /metrics endpoint.
package sysmetrics

import (
	"runtime"
	"sync"
	"syscall"
	"time"
)

// Sampler computes CPU usage between successive calls. The zero value is
// not ready; use NewSampler.
type Sampler struct {
	mu       sync.Mutex
	lastWall time.Time
	lastCPU  time.Duration
	lastPct  float64
}

// NewSampler starts measuring from now.
func NewSampler() *Sampler {
	return &Sampler{lastWall: time.Now(), lastCPU: cpuTime()}
}

// CPUPercent returns the process CPU usage as a percentage (0-100+) since
// the previous call. Multi-core processes can exceed 100%.
func (s *Sampler) CPUPercent() float64 {
	now := time.Now()
	cpu := cpuTime()

	s.mu.Lock()
	defer s.mu.Unlock()

	wall := now.Sub(s.lastWall)
	if wall <= 0 {
		return s.lastPct
	}
	s.lastPct = float64(cpu-s.lastCPU) / float64(wall) * 100.0
	s.lastWall = now
	s.lastCPU = cpu
	return s.lastPct
}

// MemoryInuse returns the memory actively in use by the Go runtime, in
// bytes: HeapInuse plus StackInuse. Mapped offset tables are not included;
// see MaxRSS.
func MemoryInuse() int64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return int64(m.HeapInuse + m.StackInuse)
}

// MaxRSS returns the peak resident set size in bytes, which does count
// touched pages of mmapped files.
func MaxRSS() int64 {
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err != nil {
		return 0
	}
	// Linux reports kilobytes.
	return rusage.Maxrss * 1024
}

func cpuTime() time.Duration {
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err != nil {
		return 0
	}
	return time.Duration(rusage.Utime.Nano()) + time.Duration(rusage.Stime.Nano())
}
