package system

import (
	"context"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// ScopeContainers ranks containers via the container engine.
	ScopeContainers = "containers"
	// ScopeProcesses ranks host processes via ps.
	ScopeProcesses = "processes"

	defaultTopLimit = 10
	psTimeout       = 3 * time.Second
)

// Engine provides the container usage feed.
type Engine interface {
	ContainerStats(ctx context.Context) (string, error)
}

type psFunc func(ctx context.Context, sortArg string) (string, error)

// Top ranks containers or host processes by resource usage.
type Top struct {
	engine Engine
	ps     psFunc
}

// NewTop returns a ranker backed by the given engine and the host ps binary.
func NewTop(engine Engine) *Top {
	return &Top{engine: engine, ps: runPS}
}

// TopItem is one ranked entry. Container entries carry id and memory
// used/limit; process entries carry pid and resident set size.
type TopItem struct {
	Type          string   `json:"type"`
	ID            string   `json:"id,omitempty"`
	PID           int      `json:"pid,omitempty"`
	Name          string   `json:"name"`
	CPUPercent    *float64 `json:"cpu_percent"`
	MemPercent    *float64 `json:"mem_percent"`
	MemUsedBytes  *int64   `json:"mem_used_bytes,omitempty"`
	MemLimitBytes *int64   `json:"mem_limit_bytes,omitempty"`
	MemRSSBytes   *int64   `json:"mem_rss_bytes,omitempty"`
}

// TopReport is the normalized query plus its ranked items.
type TopReport struct {
	Scope string    `json:"scope"`
	Sort  string    `json:"sort"`
	Limit int       `json:"limit"`
	Items []TopItem `json:"items"`
}

// Query runs a ranked usage query. Unknown scopes fall back to containers,
// unknown sort keys to cpu, and limit is clamped to 1..10.
func (t *Top) Query(ctx context.Context, scope, sortKey string, limit int) (TopReport, error) {
	scope = strings.ToLower(strings.TrimSpace(scope))
	if scope != ScopeProcesses {
		scope = ScopeContainers
	}
	switch strings.ToLower(strings.TrimSpace(sortKey)) {
	case "mem", "memory", "ram":
		sortKey = "mem"
	default:
		sortKey = "cpu"
	}
	if limit > defaultTopLimit {
		limit = defaultTopLimit
	}
	if limit < 1 {
		limit = 1
	}

	var (
		items []TopItem
		err   error
	)
	if scope == ScopeProcesses {
		items, err = t.processes(ctx, sortKey)
	} else {
		items, err = t.containers(ctx, sortKey)
	}
	if err != nil {
		return TopReport{}, err
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return TopReport{Scope: scope, Sort: sortKey, Limit: limit, Items: items}, nil
}

func (t *Top) containers(ctx context.Context, sortKey string) ([]TopItem, error) {
	output, err := t.engine.ContainerStats(ctx)
	if err != nil {
		return nil, err
	}
	var items []TopItem
	for _, line := range strings.Split(output, "\n") {
		parts := strings.Split(strings.TrimRight(line, "\r"), "\t")
		if len(parts) < 5 {
			continue
		}
		id := strings.TrimSpace(parts[0])
		name := strings.TrimSpace(parts[1])
		if name == "" {
			name = id
		}
		used, limit := parseMemUsage(parts[3])
		memPercent := parsePercent(parts[4])
		if memPercent == nil && used != nil && limit != nil && *limit > 0 {
			percent := float64(*used) / float64(*limit) * 100.0
			memPercent = &percent
		}
		items = append(items, TopItem{
			Type:          "container",
			ID:            id,
			Name:          name,
			CPUPercent:    parsePercent(parts[2]),
			MemPercent:    memPercent,
			MemUsedBytes:  used,
			MemLimitBytes: limit,
		})
	}
	sortItems(items, sortKey)
	return items, nil
}

func (t *Top) processes(ctx context.Context, sortKey string) ([]TopItem, error) {
	sortArg := "--sort=-pcpu"
	if sortKey == "mem" {
		sortArg = "--sort=-rss"
	}
	output, err := t.ps(ctx, sortArg)
	if err != nil {
		return nil, err
	}
	var items []TopItem
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		name := fields[1]
		if name == "" {
			name = strconv.Itoa(pid)
		}
		item := TopItem{
			Type:       "process",
			PID:        pid,
			Name:       name,
			CPUPercent: parsePercent(fields[2]),
			MemPercent: parsePercent(fields[3]),
		}
		rssKB, err := strconv.ParseInt(fields[4], 10, 64)
		if err == nil {
			rss := rssKB * 1024
			item.MemRSSBytes = &rss
		}
		items = append(items, item)
	}
	sortItems(items, sortKey)
	return items, nil
}

func sortItems(items []TopItem, sortKey string) {
	key := func(item TopItem) float64 {
		if sortKey == "mem" {
			if item.MemUsedBytes != nil {
				return float64(*item.MemUsedBytes)
			}
			if item.MemRSSBytes != nil {
				return float64(*item.MemRSSBytes)
			}
			return 0
		}
		if item.CPUPercent != nil {
			return *item.CPUPercent
		}
		return 0
	}
	sort.SliceStable(items, func(i, j int) bool { return key(items[i]) > key(items[j]) })
}

func runPS(ctx context.Context, sortArg string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, psTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx,
		"ps", "-eo", "pid,comm,pcpu,pmem,rss", "--no-headers", sortArg).Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

var sizePattern = regexp.MustCompile(`^([0-9]*\.?[0-9]+)\s*([A-Za-z]+)?$`)

var sizeFactors = map[string]float64{
	"b":   1,
	"kb":  1e3,
	"mb":  1e6,
	"gb":  1e9,
	"tb":  1e12,
	"kib": 1 << 10,
	"mib": 1 << 20,
	"gib": 1 << 30,
	"tib": 1 << 40,
}

func parsePercent(value string) *float64 {
	raw := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value), "%"))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseSize(value string) *int64 {
	match := sizePattern.FindStringSubmatch(strings.TrimSpace(value))
	if match == nil {
		return nil
	}
	num, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return nil
	}
	unit := strings.ToLower(match[2])
	if unit == "" {
		unit = "b"
	}
	factor, ok := sizeFactors[unit]
	if !ok {
		return nil
	}
	bytes := int64(num * factor)
	return &bytes
}

func parseMemUsage(value string) (used, limit *int64) {
	left, right, found := strings.Cut(value, "/")
	if !found {
		return nil, nil
	}
	return parseSize(left), parseSize(right)
}
