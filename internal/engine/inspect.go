package engine

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/docker/docker/api/types"
)

// Snapshot is a read-only view of one container's inspected configuration.
// Raw preserves the engine's full JSON payload so exports carry fields the
// typed view does not model. Snapshots are never cached; callers re-fetch on
// every operation because the engine is the source of truth.
type Snapshot struct {
	types.ContainerJSON
	Raw json.RawMessage
}

// DisplayName returns the container's logical name without the leading
// slash, falling back to the id.
func (s Snapshot) DisplayName() string {
	if name := strings.TrimPrefix(s.Name, "/"); name != "" {
		return name
	}
	return s.ID
}

// ImageRef returns the image reference the container was created from.
func (s Snapshot) ImageRef() string {
	if s.Config != nil && s.Config.Image != "" {
		return s.Config.Image
	}
	return s.Image
}

// Inspect fetches the full inspect payload for one container.
func (c *CLI) Inspect(ctx context.Context, id string) (Snapshot, error) {
	out, err := c.Run(ctx, "inspect", id)
	if err != nil {
		return Snapshot{}, err
	}
	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		return Snapshot{}, &CommandError{Args: []string{"inspect", id}, Stderr: "malformed inspect output: " + err.Error()}
	}
	if len(entries) == 0 {
		return Snapshot{}, &CommandError{Args: []string{"inspect", id}, Stderr: "inspect returned no data"}
	}
	var parsed types.ContainerJSON
	if err := json.Unmarshal(entries[0], &parsed); err != nil {
		return Snapshot{}, &CommandError{Args: []string{"inspect", id}, Stderr: "malformed inspect output: " + err.Error()}
	}
	return Snapshot{ContainerJSON: parsed, Raw: entries[0]}, nil
}

// InspectFormat runs a single-line formatted inspect query.
func (c *CLI) InspectFormat(ctx context.Context, id, format string) (string, error) {
	out, err := c.Run(ctx, "inspect", id, "--format", format)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// State returns the container's current run state, or "unknown" when the
// engine cannot answer.
func (c *CLI) State(ctx context.Context, id string) string {
	state, err := c.InspectFormat(ctx, id, "{{.State.Status}}")
	if err != nil {
		return "unknown"
	}
	return state
}
