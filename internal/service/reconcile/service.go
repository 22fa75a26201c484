// Package reconcile drives the live container set toward the persisted
// autostart intent. Failures accumulate as per-container warnings; one
// container never aborts the batch.
package reconcile

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/tidemark/berth/internal/domain"
	"github.com/tidemark/berth/internal/engine"
	"github.com/tidemark/berth/internal/store"
)

const (
	// PolicyPersistent keeps a container running across engine restarts.
	PolicyPersistent = "unless-stopped"
	// PolicyNone clears any restart behavior.
	PolicyNone = "no"
)

// Engine is the slice of the command gateway the reconciler needs.
type Engine interface {
	UpdateRestartPolicy(ctx context.Context, id, policy string) error
	Start(ctx context.Context, id string) error
}

// Service computes desired restart policies and run state from store
// contents and applies the deltas.
type Service struct {
	engine Engine
	logger *slog.Logger
}

// New returns a reconciler bound to the gateway.
func New(eng Engine, logger *slog.Logger) Service {
	if logger != nil {
		logger = logger.With("component", "reconcile")
	}
	return Service{engine: eng, logger: logger}
}

// SyncRestartPolicies assigns each grouped container the policy its group's
// autostart membership implies, then forces the persistent policy for every
// individually selected container. Group names are processed in sorted order
// so a container listed in several groups resolves deterministically; the
// individual selection always wins over any group-derived policy.
func (s Service) SyncRestartPolicies(ctx context.Context, cfg domain.AutostartConfig, groups store.Groups) []string {
	enabled := toSet(cfg.Groups)

	desired := make(map[string]string)
	for _, name := range sortedKeys(groups) {
		policy := PolicyNone
		if _, ok := enabled[name]; ok {
			policy = PolicyPersistent
		}
		for _, id := range groups[name] {
			desired[id] = policy
		}
	}
	for _, id := range cfg.Containers {
		desired[id] = PolicyPersistent
	}

	var warnings []string
	for _, id := range sortedKeys(desired) {
		if err := s.engine.UpdateRestartPolicy(ctx, id, desired[id]); err != nil {
			warnings = append(warnings, warning(id, err))
			if s.logger != nil {
				s.logger.Warn("restart policy update failed", "container_id", shortID(id), "policy", desired[id], "error", engine.Detail(err))
			}
		}
	}
	return warnings
}

// EnsureAutostartRunning starts every container in the desired running set:
// members of enabled groups plus the individually selected ids. A start that
// fails because the container is already running counts as success.
func (s Service) EnsureAutostartRunning(ctx context.Context, cfg domain.AutostartConfig, groups store.Groups) []string {
	desired := make(map[string]struct{})
	enabled := toSet(cfg.Groups)
	for name := range enabled {
		for _, id := range groups[name] {
			desired[id] = struct{}{}
		}
	}
	for _, id := range cfg.Containers {
		desired[id] = struct{}{}
	}

	var warnings []string
	for _, id := range sortedKeys(desired) {
		err := s.engine.Start(ctx, id)
		if err == nil {
			continue
		}
		if strings.Contains(strings.ToLower(engine.Detail(err)), "is already running") {
			continue
		}
		warnings = append(warnings, warning(id, err))
		if s.logger != nil {
			s.logger.Warn("autostart start failed", "container_id", shortID(id), "error", engine.Detail(err))
		}
	}
	return warnings
}

func warning(id string, err error) string {
	return shortID(id) + ": " + engine.Detail(err)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[value] = struct{}{}
	}
	return set
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
