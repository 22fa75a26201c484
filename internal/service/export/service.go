// Package export converts live containers into portable artifacts (build
// file, run invocation, archive) and rebuilds containers from edited build
// files.
package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/tidemark/berth/internal/engine"
)

var (
	// ErrEmptyDockerfile rejects a save with no usable content.
	ErrEmptyDockerfile = errors.New("dockerfile content is required")
	// ErrMissingCreateInput rejects container creation without a name and
	// build file.
	ErrMissingCreateInput = errors.New("name and dockerfile are required")
	// ErrEmptyCommand rejects a blank creation command.
	ErrEmptyCommand = errors.New("command is required")
)

// Engine is the slice of the command gateway the portability flows need.
type Engine interface {
	Inspect(ctx context.Context, id string) (engine.Snapshot, error)
	BuildImage(ctx context.Context, tag, dir string) error
	Stop(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	CreateContainer(ctx context.Context, args []string) error
	ExportFilesystem(ctx context.Context, id, path string) error
}

// Service owns the per-container build-file workspace and the export flows.
type Service struct {
	engine  Engine
	workdir string
	logger  *slog.Logger
}

// New returns an export service rooted at workdir.
func New(eng Engine, workdir string, logger *slog.Logger) Service {
	if logger != nil {
		logger = logger.With("component", "export")
	}
	return Service{engine: eng, workdir: workdir, logger: logger}
}

// DockerfileArtifact is a build file on disk plus its content.
type DockerfileArtifact struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Export builds the archive for one container and returns its display label
// for the attachment filename.
func (s Service) Export(ctx context.Context, id string, includeData bool) (string, []byte, error) {
	snap, err := s.engine.Inspect(ctx, id)
	if err != nil {
		return "", nil, err
	}
	var buffer bytes.Buffer
	zw := zip.NewWriter(&buffer)
	if err := s.writeContainer(ctx, zw, "", snap, includeData); err != nil {
		zw.Close()
		return "", nil, err
	}
	if err := zw.Close(); err != nil {
		return "", nil, err
	}
	return s.label(snap, id), buffer.Bytes(), nil
}

// ExportGroup merges one archive per member under per-container
// subdirectories. A member's failure becomes an error-note entry; the flow
// always continues to the next member.
func (s Service) ExportGroup(ctx context.Context, members []string, includeData bool) ([]byte, error) {
	var buffer bytes.Buffer
	zw := zip.NewWriter(&buffer)
	for _, id := range members {
		snap, err := s.engine.Inspect(ctx, id)
		if err != nil {
			if writeErr := addEntry(zw, id+"/error.txt", []byte(engine.Detail(err))); writeErr != nil {
				zw.Close()
				return nil, writeErr
			}
			continue
		}
		if err := s.writeContainer(ctx, zw, s.label(snap, id)+"/", snap, includeData); err != nil {
			zw.Close()
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// writeContainer adds the three mandatory entries and, on request, the
// container filesystem. A failed filesystem export becomes a log entry; the
// archive is always producible.
func (s Service) writeContainer(ctx context.Context, zw *zip.Writer, prefix string, snap engine.Snapshot, includeData bool) error {
	if err := addEntry(zw, prefix+"Dockerfile", []byte(Dockerfile(snap))); err != nil {
		return err
	}
	if err := addEntry(zw, prefix+"run.sh", []byte(runScript(RunArgs(snap)))); err != nil {
		return err
	}
	if err := addEntry(zw, prefix+"inspect.json", prettyJSON(snap)); err != nil {
		return err
	}
	if !includeData {
		return nil
	}

	tmp := filepath.Join(os.TempDir(), "berth-rootfs-"+uuid.NewString()+".tar")
	defer os.Remove(tmp)
	if err := s.engine.ExportFilesystem(ctx, snap.ID, tmp); err != nil {
		if s.logger != nil {
			s.logger.Warn("filesystem export failed", "container_id", snap.ID, "error", engine.Detail(err))
		}
		return addEntry(zw, prefix+"data-export.log", []byte("filesystem export failed: "+engine.Detail(err)))
	}
	tar, err := os.Open(tmp)
	if err != nil {
		return addEntry(zw, prefix+"data-export.log", []byte("filesystem export failed: "+err.Error()))
	}
	defer tar.Close()
	entry, err := zw.Create(prefix + "rootfs.tar")
	if err != nil {
		return err
	}
	_, err = io.Copy(entry, tar)
	return err
}

// GetDockerfile returns the saved build file, seeding the per-container
// workspace from the derived one on first use so later reads round-trip the
// previously saved edit.
func (s Service) GetDockerfile(ctx context.Context, id string) (DockerfileArtifact, error) {
	snap, err := s.engine.Inspect(ctx, id)
	if err != nil {
		return DockerfileArtifact{}, err
	}
	dir, err := s.containerDir(snap, id)
	if err != nil {
		return DockerfileArtifact{}, err
	}
	path := filepath.Join(dir, "Dockerfile")
	if data, err := os.ReadFile(path); err == nil {
		return DockerfileArtifact{Path: path, Content: string(data)}, nil
	}
	content := Dockerfile(snap)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return DockerfileArtifact{}, err
	}
	return DockerfileArtifact{Path: path, Content: content}, nil
}

// SaveDockerfile persists the edited build file, rebuilds the image under
// the container's original reference, and re-creates the container from the
// invocation derived from the pre-edit snapshot. Build and re-create
// failures are fatal; stop and remove failures are tolerated because the
// container may already be stopped or gone.
func (s Service) SaveDockerfile(ctx context.Context, id, content string) (DockerfileArtifact, error) {
	if strings.TrimSpace(content) == "" {
		return DockerfileArtifact{}, ErrEmptyDockerfile
	}
	snap, err := s.engine.Inspect(ctx, id)
	if err != nil {
		return DockerfileArtifact{}, err
	}
	dir, err := s.containerDir(snap, id)
	if err != nil {
		return DockerfileArtifact{}, err
	}
	path := filepath.Join(dir, "Dockerfile")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return DockerfileArtifact{}, err
	}

	tag := snap.ImageRef()
	if tag == "" {
		tag = snap.DisplayName()
	}
	runArgs := RunArgs(snap)

	if err := s.engine.BuildImage(ctx, tag, dir); err != nil {
		return DockerfileArtifact{}, err
	}
	if err := s.engine.Stop(ctx, id); err != nil && s.logger != nil {
		s.logger.Debug("stop before re-create failed", "container_id", id, "error", engine.Detail(err))
	}
	if err := s.engine.Remove(ctx, id); err != nil && s.logger != nil {
		s.logger.Debug("remove before re-create failed", "container_id", id, "error", engine.Detail(err))
	}
	if err := s.engine.CreateContainer(ctx, runArgs); err != nil {
		return DockerfileArtifact{}, err
	}
	return DockerfileArtifact{Path: path, Content: content}, nil
}

// CreateInput describes a container built from a user-authored build file.
type CreateInput struct {
	Name       string      `json:"name"`
	Dockerfile string      `json:"dockerfile"`
	Command    string      `json:"command"`
	Env        string      `json:"env"`
	Files      []ExtraFile `json:"files"`
}

// ExtraFile is an additional build-context file.
type ExtraFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// CreateFromDockerfile writes the build context, builds <name>:latest, and
// runs the new container.
func (s Service) CreateFromDockerfile(ctx context.Context, input CreateInput) error {
	name := strings.TrimSpace(input.Name)
	dockerfile := strings.TrimSpace(input.Dockerfile)
	if name == "" || dockerfile == "" {
		return ErrMissingCreateInput
	}
	dir := filepath.Join(s.workdir, safeFilename(name, "container"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte(dockerfile), 0o644); err != nil {
		return err
	}
	if input.Env != "" {
		if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(input.Env), 0o644); err != nil {
			return err
		}
	}
	for _, file := range input.Files {
		if file.Name == "" {
			continue
		}
		target := filepath.Join(dir, filepath.Clean(file.Name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, []byte(file.Content), 0o644); err != nil {
			return err
		}
	}

	tag := name + ":latest"
	if err := s.engine.BuildImage(ctx, tag, dir); err != nil {
		return err
	}
	args := []string{"run", "-d", "--name", name}
	if input.Env != "" {
		args = append(args, "--env-file", filepath.Join(dir, ".env"))
	}
	args = append(args, tag)
	if command := strings.TrimSpace(input.Command); command != "" {
		words, err := splitWords(command)
		if err != nil {
			return err
		}
		args = append(args, words...)
	}
	return s.engine.CreateContainer(ctx, args)
}

// CreateFromCommand splits a user-supplied engine command into argv tokens,
// dropping a leading "docker", and runs it through the gateway.
func (s Service) CreateFromCommand(ctx context.Context, command string) error {
	command = strings.TrimSpace(command)
	if command == "" {
		return ErrEmptyCommand
	}
	words, err := splitWords(command)
	if err != nil {
		return err
	}
	if len(words) > 0 && words[0] == "docker" {
		words = words[1:]
	}
	if len(words) == 0 {
		return ErrEmptyCommand
	}
	return s.engine.CreateContainer(ctx, words)
}

func (s Service) containerDir(snap engine.Snapshot, fallback string) (string, error) {
	dir := filepath.Join(s.workdir, s.label(snap, fallback))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func (s Service) label(snap engine.Snapshot, fallback string) string {
	return safeFilename(snap.DisplayName(), safeFilename(fallback, "container"))
}

func prettyJSON(snap engine.Snapshot) []byte {
	if len(snap.Raw) > 0 {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, snap.Raw, "", "  "); err == nil {
			return pretty.Bytes()
		}
		return snap.Raw
	}
	encoded, err := json.MarshalIndent(snap.ContainerJSON, "", "  ")
	if err != nil {
		return []byte("{}")
	}
	return encoded
}

func addEntry(zw *zip.Writer, name string, data []byte) error {
	entry, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = entry.Write(data)
	return err
}
