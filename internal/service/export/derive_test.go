package export

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/docker/docker/api/types"

	"github.com/tidemark/berth/internal/engine"
)

func snapFromJSON(t *testing.T, raw string) engine.Snapshot {
	t.Helper()
	var parsed types.ContainerJSON
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return engine.Snapshot{ContainerJSON: parsed, Raw: []byte(raw)}
}

const fullSnapshot = `{
  "Id": "abc123def456abc123",
  "Name": "/media-server",
  "Config": {
    "Image": "jellyfin/jellyfin:latest",
    "Env": ["TZ=UTC", "PUID=1000"],
    "WorkingDir": "/app",
    "User": "1000:1000",
    "ExposedPorts": {"8096/tcp": {}, "1900/udp": {}},
    "Entrypoint": ["/init"],
    "Cmd": ["--service"]
  },
  "HostConfig": {
    "RestartPolicy": {"Name": "unless-stopped"},
    "NetworkMode": "host",
    "Binds": ["/srv/media:/media:ro"],
    "PortBindings": {
      "8096/tcp": [{"HostIp": "0.0.0.0", "HostPort": "8096"}],
      "1900/udp": [{"HostIp": "127.0.0.1", "HostPort": "1900"}]
    }
  },
  "Mounts": [{"Destination": "/config"}, {"Destination": "/media"}]
}`

func TestDockerfileDerivation(t *testing.T) {
	snap := snapFromJSON(t, fullSnapshot)
	got := Dockerfile(snap)
	want := strings.Join([]string{
		"FROM jellyfin/jellyfin:latest",
		"ENV TZ=UTC",
		"ENV PUID=1000",
		"WORKDIR /app",
		"EXPOSE 1900/udp",
		"EXPOSE 8096/tcp",
		"VOLUME /config",
		"VOLUME /media",
		`ENTRYPOINT ["/init"]`,
		`CMD ["--service"]`,
	}, "\n") + "\n"
	if got != want {
		t.Fatalf("Dockerfile mismatch:\n got: %q\nwant: %q", got, want)
	}
}

func TestDockerfileOmitsAbsentFields(t *testing.T) {
	snap := snapFromJSON(t, `{"Id":"x","Name":"/bare","Config":{"Image":"alpine"}}`)
	if got := Dockerfile(snap); got != "FROM alpine\n" {
		t.Fatalf("minimal Dockerfile = %q", got)
	}
}

func TestRunArgsFull(t *testing.T) {
	snap := snapFromJSON(t, fullSnapshot)
	got := RunArgs(snap)
	want := []string{
		"run", "-d", "--name", "media-server",
		"--restart", "unless-stopped",
		"--network", "host",
		"-v", "/srv/media:/media:ro",
		"-p", "127.0.0.1:1900:1900/udp",
		"-p", "8096:8096/tcp",
		"-e", "TZ=UTC",
		"-e", "PUID=1000",
		"-w", "/app",
		"-u", "1000:1000",
		"jellyfin/jellyfin:latest",
		"/init", "--service",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("RunArgs mismatch:\n got: %v\nwant: %v", got, want)
	}
}

func TestRunArgsOmitsDefaults(t *testing.T) {
	snap := snapFromJSON(t, `{
  "Id": "x", "Name": "/plain",
  "Config": {"Image": "alpine"},
  "HostConfig": {"RestartPolicy": {"Name": "no"}, "NetworkMode": "bridge"}
}`)
	want := []string{"run", "-d", "--name", "plain", "alpine"}
	if got := RunArgs(snap); !reflect.DeepEqual(got, want) {
		t.Fatalf("RunArgs = %v, want %v", got, want)
	}
}

func TestRunScriptQuotesUnsafeArguments(t *testing.T) {
	script := runScript([]string{"run", "-e", `NAME=va lue'"`})
	if !strings.HasPrefix(script, "#!/usr/bin/env bash\nset -euo pipefail\n") {
		t.Fatalf("missing shebang/prelude: %q", script)
	}
	if !strings.Contains(script, `docker run -e 'NAME=va lue'\''"'`) {
		t.Fatalf("argument not quoted: %q", script)
	}
}

func TestSafeFilename(t *testing.T) {
	if got := safeFilename("/my app!!", "container"); got != "my-app" {
		t.Fatalf("safeFilename = %q", got)
	}
	if got := safeFilename("---", "container"); got != "container" {
		t.Fatalf("fallback not applied: %q", got)
	}
}

func TestSplitWords(t *testing.T) {
	words, err := splitWords(`docker run --name "my app" -e KEY='a b' img`)
	if err != nil {
		t.Fatalf("splitWords: %v", err)
	}
	want := []string{"docker", "run", "--name", "my app", "-e", "KEY=a b", "img"}
	if !reflect.DeepEqual(words, want) {
		t.Fatalf("splitWords = %v, want %v", words, want)
	}
	if _, err := splitWords(`run "unclosed`); err == nil {
		t.Fatal("unbalanced quote must error")
	}
}
