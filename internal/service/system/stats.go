// Package system reports host and container resource usage.
package system

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Sampler computes CPU usage from successive /proc/stat readings. The first
// call takes two samples a short interval apart to produce an initial value;
// later calls diff against the previous one.
type Sampler struct {
	mu       sync.Mutex
	procRoot string
	now      func() time.Time
	sleep    func(time.Duration)

	hasSample bool
	total     int64
	idle      int64
}

// NewSampler returns a sampler reading from /proc.
func NewSampler() *Sampler {
	return &Sampler{procRoot: "/proc", now: time.Now, sleep: time.Sleep}
}

// CPU describes processor usage.
type CPU struct {
	Percent *float64  `json:"percent"`
	Cores   int       `json:"cores"`
	LoadAvg []float64 `json:"load_avg"`
}

// Memory describes RAM usage derived from /proc/meminfo.
type Memory struct {
	TotalBytes     *int64   `json:"total_bytes"`
	AvailableBytes *int64   `json:"available_bytes"`
	UsedBytes      *int64   `json:"used_bytes"`
	Percent        *float64 `json:"percent"`
}

// Stats is one host usage snapshot.
type Stats struct {
	Timestamp     float64  `json:"timestamp"`
	CPU           CPU      `json:"cpu"`
	Memory        Memory   `json:"memory"`
	UptimeSeconds *float64 `json:"uptime_seconds"`
}

// Stats reads the current host usage. Missing or unreadable proc files leave
// the corresponding fields null rather than failing the call.
func (s *Sampler) Stats() Stats {
	out := Stats{
		Timestamp: float64(s.now().UnixNano()) / float64(time.Second),
		CPU:       CPU{Cores: runtime.NumCPU(), LoadAvg: s.loadAvg()},
	}
	out.UptimeSeconds = s.uptime()
	out.CPU.Percent = s.cpuPercent()

	mem := s.meminfo()
	total := mem["MemTotal"]
	available := mem["MemAvailable"]
	if total > 0 && available == 0 {
		available = mem["MemFree"] + mem["Buffers"] + mem["Cached"]
	}
	if total > 0 {
		used := total - available
		if used < 0 {
			used = 0
		}
		percent := float64(used) / float64(total) * 100.0
		out.Memory = Memory{
			TotalBytes:     &total,
			AvailableBytes: &available,
			UsedBytes:      &used,
			Percent:        &percent,
		}
	}
	return out
}

func (s *Sampler) cpuPercent() *float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	total, idle, ok := s.readCPUTimes()
	if !ok {
		return nil
	}
	var percent *float64
	if s.hasSample {
		percent = usageBetween(s.total, s.idle, total, idle)
	} else {
		s.sleep(120 * time.Millisecond)
		total2, idle2, ok := s.readCPUTimes()
		if ok {
			percent = usageBetween(total, idle, total2, idle2)
			total, idle = total2, idle2
		}
	}
	s.total, s.idle, s.hasSample = total, idle, true
	return percent
}

func usageBetween(total0, idle0, total1, idle1 int64) *float64 {
	deltaTotal := total1 - total0
	if deltaTotal <= 0 {
		return nil
	}
	deltaIdle := idle1 - idle0
	percent := (1.0 - float64(deltaIdle)/float64(deltaTotal)) * 100.0
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return &percent
}

// readCPUTimes parses the aggregate cpu line of /proc/stat into total and
// idle jiffies. Idle includes iowait when present.
func (s *Sampler) readCPUTimes() (total, idle int64, ok bool) {
	raw, err := os.ReadFile(filepath.Join(s.procRoot, "stat"))
	if err != nil {
		return 0, 0, false
	}
	line, _, _ := strings.Cut(string(raw), "\n")
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0, false
	}
	values := make([]int64, 0, len(fields)-1)
	for _, field := range fields[1:] {
		v, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return 0, 0, false
		}
		values = append(values, v)
		total += v
	}
	idle = values[3]
	if len(values) > 4 {
		idle += values[4]
	}
	return total, idle, true
}

func (s *Sampler) loadAvg() []float64 {
	raw, err := os.ReadFile(filepath.Join(s.procRoot, "loadavg"))
	if err != nil {
		return nil
	}
	fields := strings.Fields(string(raw))
	if len(fields) < 3 {
		return nil
	}
	loads := make([]float64, 0, 3)
	for _, field := range fields[:3] {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil
		}
		loads = append(loads, v)
	}
	return loads
}

func (s *Sampler) uptime() *float64 {
	raw, err := os.ReadFile(filepath.Join(s.procRoot, "uptime"))
	if err != nil {
		return nil
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return nil
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return nil
	}
	return &v
}

// meminfo returns /proc/meminfo entries in bytes.
func (s *Sampler) meminfo() map[string]int64 {
	info := map[string]int64{}
	raw, err := os.ReadFile(filepath.Join(s.procRoot, "meminfo"))
	if err != nil {
		return info
	}
	for _, line := range strings.Split(string(raw), "\n") {
		key, rest, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		num, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			continue
		}
		if len(fields) > 1 && strings.EqualFold(fields[1], "kb") {
			num *= 1024
		}
		info[strings.TrimSpace(key)] = num
	}
	return info
}
