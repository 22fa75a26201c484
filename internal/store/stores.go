package store

import (
	"sort"
	"strings"

	"github.com/tidemark/berth/internal/domain"
)

// Groups maps group names to container id sets.
type Groups = map[string][]string

// Aliases maps group names or container ids to display metadata.
type Aliases = map[string]domain.AliasEntry

// NewGroups opens the group membership store.
func NewGroups(path string) (*Store[Groups], error) {
	return New(path, func() Groups { return Groups{} }, sanitizeGroups)
}

// NewAutostart opens the autostart selection store.
func NewAutostart(path string) (*Store[domain.AutostartConfig], error) {
	return New(path, func() domain.AutostartConfig {
		return domain.AutostartConfig{Groups: []string{}, Containers: []string{}}
	}, sanitizeAutostart)
}

// NewAliases opens an alias store; group and container aliases share the
// same shape and sanitizer.
func NewAliases(path string) (*Store[Aliases], error) {
	return New(path, func() Aliases { return Aliases{} }, sanitizeAliases)
}

// sanitizeGroups trims group names, drops empty names, and collapses member
// lists to sorted sets. Re-sanitizing sanitized input is a no-op.
func sanitizeGroups(groups Groups) Groups {
	sanitized := make(Groups, len(groups))
	for name, ids := range groups {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		sanitized[name] = dedupeSorted(ids)
	}
	return sanitized
}

func sanitizeAutostart(cfg domain.AutostartConfig) domain.AutostartConfig {
	return domain.AutostartConfig{
		Groups:     dedupeSorted(cfg.Groups),
		Containers: dedupeSorted(cfg.Containers),
	}
}

// sanitizeAliases trims keys and entry fields and prunes entries that carry
// no alias, no icon, and no order.
func sanitizeAliases(aliases Aliases) Aliases {
	sanitized := make(Aliases, len(aliases))
	for key, entry := range aliases {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		entry = entry.Normalize()
		if entry.Empty() {
			continue
		}
		sanitized[key] = entry
	}
	return sanitized
}

func dedupeSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	sort.Strings(result)
	return result
}
