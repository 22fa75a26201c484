package config

import (
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime configuration for the control plane. It is built once
// in main and passed by value; components never read the environment
// themselves.
type Config struct {
	Addr           string
	Debug          bool
	DockerBin      string
	DockerTimeout  time.Duration
	DataDir        string
	StaticDir      string
	IndexFile      string
	IconsDir       string
	DockerfilesDir string

	GroupsFile           string
	GroupAliasesFile     string
	ContainerAliasesFile string
	AutostartFile        string
}

// Load constructs a Config from environment variables.
func Load() Config {
	dataDir := GetString("DATA_DIR", "data")
	return Config{
		Addr:           net.JoinHostPort(GetString("HOST", "0.0.0.0"), GetString("PORT", "8088")),
		Debug:          GetBool("DEBUG", false),
		DockerBin:      GetString("DOCKER_BIN", "docker"),
		DockerTimeout:  time.Duration(GetInt("DOCKER_TIMEOUT", 30)) * time.Second,
		DataDir:        dataDir,
		StaticDir:      GetString("STATIC_DIR", "static"),
		IndexFile:      GetString("INDEX_FILE", "index.html"),
		IconsDir:       GetString("ICONS_DIR", "icons"),
		DockerfilesDir: GetString("DOCKERFILES_DIR", "dockerfiles"),

		GroupsFile:           filepath.Join(dataDir, "groups.json"),
		GroupAliasesFile:     filepath.Join(dataDir, "group_aliases.json"),
		ContainerAliasesFile: filepath.Join(dataDir, "container_aliases.json"),
		AutostartFile:        filepath.Join(dataDir, "autostart.json"),
	}
}

// GetString retrieves an environment variable or returns a fallback when unset.
func GetString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetInt retrieves an environment variable as integer or returns fallback.
func GetInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("invalid value for %s: %v", key, err)
			return fallback
		}
		return parsed
	}
	return fallback
}

// GetBool retrieves an environment variable as bool or returns fallback.
func GetBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			log.Printf("invalid value for %s: %v", key, err)
			return fallback
		}
		return parsed
	}
	return fallback
}

// LoadEnvFile reads KEY=VALUE pairs from a dotenv file into the process
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			continue
		}
		if len(value) >= 2 {
			if (value[0] == '\'' && value[len(value)-1] == '\'') || (value[0] == '"' && value[len(value)-1] == '"') {
				value = value[1 : len(value)-1]
			}
		}
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
}
