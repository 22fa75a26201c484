package system

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeProc(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestSampler(t *testing.T) *Sampler {
	t.Helper()
	return &Sampler{
		procRoot: t.TempDir(),
		now:      func() time.Time { return time.Unix(1700000000, 0) },
		sleep:    func(time.Duration) {},
	}
}

func TestStatsFirstCallSamplesTwice(t *testing.T) {
	s := newTestSampler(t)
	// 200 busy + 800 idle jiffies between the two samples: 20% usage.
	writeProc(t, s.procRoot, "stat", "cpu 100 0 100 700 100 0 0 0\n")
	s.sleep = func(time.Duration) {
		writeProc(t, s.procRoot, "stat", "cpu 250 0 150 1400 200 0 0 0\n")
	}
	writeProc(t, s.procRoot, "meminfo", "MemTotal: 1000 kB\nMemAvailable: 250 kB\n")
	writeProc(t, s.procRoot, "loadavg", "0.50 0.40 0.30 1/100 1234\n")
	writeProc(t, s.procRoot, "uptime", "3600.50 7200.00\n")

	stats := s.Stats()
	if stats.CPU.Percent == nil {
		t.Fatal("cpu percent should be set on the first call")
	}
	if got := *stats.CPU.Percent; got < 19.9 || got > 20.1 {
		t.Errorf("cpu percent = %f, want 20", got)
	}
	if len(stats.CPU.LoadAvg) != 3 || stats.CPU.LoadAvg[0] != 0.5 {
		t.Errorf("load avg = %v", stats.CPU.LoadAvg)
	}
	if stats.UptimeSeconds == nil || *stats.UptimeSeconds != 3600.5 {
		t.Errorf("uptime = %v", stats.UptimeSeconds)
	}
	if stats.Memory.TotalBytes == nil || *stats.Memory.TotalBytes != 1000*1024 {
		t.Errorf("mem total = %v", stats.Memory.TotalBytes)
	}
	if stats.Memory.UsedBytes == nil || *stats.Memory.UsedBytes != 750*1024 {
		t.Errorf("mem used = %v", stats.Memory.UsedBytes)
	}
	if stats.Memory.Percent == nil || *stats.Memory.Percent != 75.0 {
		t.Errorf("mem percent = %v", stats.Memory.Percent)
	}
}

func TestStatsSecondCallDiffsPreviousSample(t *testing.T) {
	s := newTestSampler(t)
	writeProc(t, s.procRoot, "stat", "cpu 100 0 100 800 0 0 0 0\n")
	s.Stats()

	slept := false
	s.sleep = func(time.Duration) { slept = true }
	// +500 busy, +500 idle since the stored sample.
	writeProc(t, s.procRoot, "stat", "cpu 350 0 350 1300 0 0 0 0\n")
	stats := s.Stats()
	if slept {
		t.Error("second call should not sleep for a fresh sample")
	}
	if stats.CPU.Percent == nil {
		t.Fatal("cpu percent missing")
	}
	if got := *stats.CPU.Percent; got < 49.9 || got > 50.1 {
		t.Errorf("cpu percent = %f, want 50", got)
	}
}

func TestStatsMemAvailableFallback(t *testing.T) {
	s := newTestSampler(t)
	writeProc(t, s.procRoot, "stat", "cpu 1 1 1 1 1\n")
	writeProc(t, s.procRoot, "meminfo",
		"MemTotal: 1000 kB\nMemFree: 100 kB\nBuffers: 50 kB\nCached: 150 kB\n")

	stats := s.Stats()
	if stats.Memory.AvailableBytes == nil || *stats.Memory.AvailableBytes != 300*1024 {
		t.Errorf("available = %v, want MemFree+Buffers+Cached", stats.Memory.AvailableBytes)
	}
}

func TestStatsMissingProcFilesDegrade(t *testing.T) {
	s := newTestSampler(t)
	stats := s.Stats()
	if stats.CPU.Percent != nil || stats.UptimeSeconds != nil || stats.Memory.TotalBytes != nil {
		t.Errorf("expected null fields, got %+v", stats)
	}
	if stats.CPU.Cores < 1 {
		t.Errorf("cores = %d", stats.CPU.Cores)
	}
}

type stubStatsEngine struct {
	output string
	err    error
}

func (s stubStatsEngine) ContainerStats(context.Context) (string, error) {
	return s.output, s.err
}

func TestTopContainersSortedByCPU(t *testing.T) {
	engine := stubStatsEngine{output: "" +
		"aaa\tweb\t12.5%\t100MiB / 1GiB\t9.77%\n" +
		"bbb\tdb\t80.0%\t512MiB / 1GiB\t50.00%\n" +
		"short line\n" +
		"ccc\tcache\t1.0%\t10MiB / 1GiB\t0.98%\n"}
	top := &Top{engine: engine}

	report, err := top.Query(context.Background(), "", "", 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if report.Scope != ScopeContainers || report.Sort != "cpu" || report.Limit != 1 {
		t.Errorf("normalized query = %+v", report)
	}
	if len(report.Items) != 1 {
		t.Fatalf("items = %d, want limit applied", len(report.Items))
	}
	if report.Items[0].Name != "db" {
		t.Errorf("top item = %q, want db", report.Items[0].Name)
	}
	if report.Items[0].MemUsedBytes == nil || *report.Items[0].MemUsedBytes != 512<<20 {
		t.Errorf("mem used = %v", report.Items[0].MemUsedBytes)
	}
}

func TestTopContainersSortedByMem(t *testing.T) {
	engine := stubStatsEngine{output: "" +
		"aaa\tweb\t90.0%\t100MB / 1GB\t10.0%\n" +
		"bbb\tdb\t1.0%\t900MB / 1GB\t90.0%\n"}
	top := &Top{engine: engine}

	report, err := top.Query(context.Background(), "containers", "memory", 5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if report.Sort != "mem" {
		t.Errorf("sort = %q", report.Sort)
	}
	if report.Items[0].Name != "db" {
		t.Errorf("top item = %q, want db", report.Items[0].Name)
	}
}

func TestTopProcesses(t *testing.T) {
	top := &Top{
		engine: stubStatsEngine{err: errors.New("engine should not be called")},
		ps: func(_ context.Context, sortArg string) (string, error) {
			if sortArg != "--sort=-rss" {
				t.Errorf("sortArg = %q", sortArg)
			}
			return "  12 nginx 3.5 1.2 2048\n  not-a-pid x 1 1 1\n  34 postgres 1.0 5.0 8192\n", nil
		},
	}

	report, err := top.Query(context.Background(), "PROCESSES", "ram", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if report.Scope != ScopeProcesses {
		t.Errorf("scope = %q", report.Scope)
	}
	if len(report.Items) != 2 {
		t.Fatalf("items = %d", len(report.Items))
	}
	if report.Items[0].PID != 34 {
		t.Errorf("top pid = %d, want 34 (largest rss)", report.Items[0].PID)
	}
	if report.Items[0].MemRSSBytes == nil || *report.Items[0].MemRSSBytes != 8192*1024 {
		t.Errorf("rss = %v", report.Items[0].MemRSSBytes)
	}
}

func TestTopLimitClamped(t *testing.T) {
	top := &Top{engine: stubStatsEngine{}}
	report, err := top.Query(context.Background(), "containers", "cpu", 99)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if report.Limit != 10 {
		t.Errorf("limit = %d, want 10", report.Limit)
	}
}

func TestParseSize(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"512MiB", 512 << 20, true},
		{"1.5GB", 1500000000, true},
		{"42", 42, true},
		{"7 kB", 7000, true},
		{"bogus", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got := parseSize(tc.in)
		if tc.ok != (got != nil) {
			t.Errorf("parseSize(%q) ok = %v, want %v", tc.in, got != nil, tc.ok)
			continue
		}
		if got != nil && *got != tc.want {
			t.Errorf("parseSize(%q) = %d, want %d", tc.in, *got, tc.want)
		}
	}
}
