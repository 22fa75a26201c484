package export

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/docker/go-connections/nat"

	"github.com/tidemark/berth/internal/engine"
)

// Dockerfile derives a build file from the inspected configuration. Absent
// snapshot fields omit their line entirely.
func Dockerfile(snap engine.Snapshot) string {
	var lines []string

	image := snap.ImageRef()
	if image == "" {
		image = "scratch"
	}
	lines = append(lines, "FROM "+image)

	cfg := snap.Config
	if cfg != nil {
		for _, env := range cfg.Env {
			lines = append(lines, "ENV "+env)
		}
		if cfg.WorkingDir != "" {
			lines = append(lines, "WORKDIR "+cfg.WorkingDir)
		}
		ports := make([]string, 0, len(cfg.ExposedPorts))
		for port := range cfg.ExposedPorts {
			ports = append(ports, string(port))
		}
		sort.Strings(ports)
		for _, port := range ports {
			lines = append(lines, "EXPOSE "+port)
		}
	}

	for _, mount := range snap.Mounts {
		if mount.Destination != "" {
			lines = append(lines, "VOLUME "+mount.Destination)
		}
	}

	if cfg != nil {
		if len(cfg.Entrypoint) > 0 {
			lines = append(lines, "ENTRYPOINT "+jsonVector([]string(cfg.Entrypoint)))
		}
		if len(cfg.Cmd) > 0 {
			lines = append(lines, "CMD "+jsonVector([]string(cfg.Cmd)))
		}
	}

	return strings.Join(lines, "\n") + "\n"
}

// RunArgs derives the full creation argv that re-creates the container with
// its name, restart policy, network, binds, published ports, environment,
// working directory, and user preserved.
func RunArgs(snap engine.Snapshot) []string {
	args := []string{"run", "-d", "--name", snap.DisplayName()}

	host := snap.HostConfig
	if host != nil {
		if policy := string(host.RestartPolicy.Name); policy != "" && policy != "no" {
			args = append(args, "--restart", policy)
		}
		if mode := string(host.NetworkMode); mode != "" && mode != "default" && mode != "bridge" {
			args = append(args, "--network", mode)
		}
		for _, bind := range host.Binds {
			args = append(args, "-v", bind)
		}
		ports := make([]nat.Port, 0, len(host.PortBindings))
		for port := range host.PortBindings {
			ports = append(ports, port)
		}
		sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
		for _, port := range ports {
			for _, binding := range host.PortBindings[port] {
				if binding.HostPort == "" {
					continue
				}
				if binding.HostIP != "" && binding.HostIP != "0.0.0.0" {
					args = append(args, "-p", fmt.Sprintf("%s:%s:%s", binding.HostIP, binding.HostPort, port))
				} else {
					args = append(args, "-p", fmt.Sprintf("%s:%s", binding.HostPort, port))
				}
			}
		}
	}

	cfg := snap.Config
	if cfg != nil {
		for _, env := range cfg.Env {
			args = append(args, "-e", env)
		}
		if cfg.WorkingDir != "" {
			args = append(args, "-w", cfg.WorkingDir)
		}
		if cfg.User != "" {
			args = append(args, "-u", cfg.User)
		}
	}

	args = append(args, snap.ImageRef())
	if cfg != nil {
		args = append(args, cfg.Entrypoint...)
		args = append(args, cfg.Cmd...)
	}
	return args
}

// runScript wraps the creation argv in a runnable shell script.
func runScript(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = quoteShell(arg)
	}
	return "#!/usr/bin/env bash\nset -euo pipefail\n\ndocker " + strings.Join(quoted, " ") + "\n"
}

func jsonVector(vector []string) string {
	encoded, err := json.Marshal(vector)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

var shellSafe = regexp.MustCompile(`^[A-Za-z0-9@%+=:,./_-]+$`)

// quoteShell single-quotes an argument unless it is entirely safe.
func quoteShell(arg string) string {
	if arg == "" {
		return "''"
	}
	if shellSafe.MatchString(arg) {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// safeFilename collapses anything outside [A-Za-z0-9_.-] so container names
// become usable file and directory names.
// SafeLabel converts free text into an archive-safe name.
func SafeLabel(text, fallback string) string {
	return safeFilename(text, fallback)
}

func safeFilename(text, fallback string) string {
	cleaned := strings.Trim(unsafeFilename.ReplaceAllString(text, "-"), "-._")
	if cleaned == "" {
		return fallback
	}
	return cleaned
}

// splitWords splits a command line into argv tokens with shell-style quoting
// rules.
func splitWords(command string) ([]string, error) {
	var (
		words   []string
		current strings.Builder
		quote   rune
		active  bool
	)
	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		switch {
		case quote == '\'':
			if ch == '\'' {
				quote = 0
			} else {
				current.WriteRune(ch)
			}
		case quote == '"':
			if ch == '"' {
				quote = 0
			} else if ch == '\\' && i+1 < len(runes) {
				i++
				current.WriteRune(runes[i])
			} else {
				current.WriteRune(ch)
			}
		case ch == '\'' || ch == '"':
			quote = ch
			active = true
		case ch == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
			active = true
		case ch == ' ' || ch == '\t' || ch == '\n':
			if active || current.Len() > 0 {
				words = append(words, current.String())
				current.Reset()
				active = false
			}
		default:
			current.WriteRune(ch)
			active = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unbalanced quote in command")
	}
	if active || current.Len() > 0 {
		words = append(words, current.String())
	}
	return words, nil
}
