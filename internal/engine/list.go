package engine

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tidemark/berth/internal/domain"
)

// iconLabels are checked in order when looking for an icon hint.
var iconLabels = []string{
	"org.opencontainers.image.icon",
	"io.casaos.app.icon",
	"icon",
	"org.opencontainers.image.logo",
}

const composeProjectLabel = "com.docker.compose.project"

type psLine struct {
	ID      string `json:"ID"`
	Names   string `json:"Names"`
	Image   string `json:"Image"`
	Command string `json:"Command"`
	State   string `json:"State"`
	Status  string `json:"Status"`
	Ports   string `json:"Ports"`
	Labels  string `json:"Labels"`
	Mounts  string `json:"Mounts"`
}

// ListContainers fetches the full container set, one JSON object per line.
// Unparseable lines are skipped. The restart policy is resolved per container
// with a formatted inspect query; a failed lookup degrades to "no".
func (c *CLI) ListContainers(ctx context.Context) ([]domain.Container, error) {
	out, err := c.Run(ctx, "ps", "-a", "--no-trunc", "--format", "{{json .}}")
	if err != nil {
		return nil, err
	}

	containers := make([]domain.Container, 0, 8)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var raw psLine
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			continue
		}
		labels := parseLabels(raw.Labels)

		policy := "no"
		if resolved, err := c.InspectFormat(ctx, raw.ID, "{{.HostConfig.RestartPolicy.Name}}"); err == nil && resolved != "" {
			policy = resolved
		}

		containers = append(containers, domain.Container{
			ID:            raw.ID,
			Name:          raw.Names,
			Image:         raw.Image,
			Command:       raw.Command,
			State:         raw.State,
			Status:        raw.Status,
			Ports:         raw.Ports,
			Project:       labels[composeProjectLabel],
			Mounts:        raw.Mounts,
			Icon:          iconFromLabels(labels),
			RestartPolicy: policy,
		})
	}
	return containers, nil
}

// ContainerStats returns one tab-separated usage line per running container.
func (c *CLI) ContainerStats(ctx context.Context) (string, error) {
	return c.Run(ctx, "stats", "--no-stream", "--format",
		"{{.ID}}\t{{.Name}}\t{{.CPUPerc}}\t{{.MemUsage}}\t{{.MemPerc}}")
}

func iconFromLabels(labels map[string]string) string {
	for _, key := range iconLabels {
		if value := labels[key]; value != "" {
			return value
		}
	}
	return ""
}

func parseLabels(raw string) map[string]string {
	labels := make(map[string]string)
	if raw == "" {
		return labels
	}
	for _, pair := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		labels[key] = value
	}
	return labels
}
