// Package icon stores uploaded icon files under content-addressed names.
package icon

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// MaxUploadBytes caps the accepted upload size. A declared length above the
// cap is rejected before the body is read.
const MaxUploadBytes = 5 << 20

const hashPrefixLen = 12

var allowedExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {}, ".webp": {}, ".ico": {},
}

var (
	// ErrContentType rejects non-multipart uploads.
	ErrContentType = errors.New("content type must be multipart/form-data")
	// ErrBoundary rejects a content type without a boundary parameter.
	ErrBoundary = errors.New("no boundary found in content type")
	// ErrTooLarge rejects uploads above MaxUploadBytes.
	ErrTooLarge = fmt.Errorf("file too large (max %dMB)", MaxUploadBytes/1024/1024)
	// ErrNoFile rejects bodies with no usable file part.
	ErrNoFile = errors.New("no file found in request")
	// ErrExtension rejects file types outside the allow-list.
	ErrExtension = errors.New("invalid file type; allowed: png, jpg, jpeg, gif, svg, webp, ico")
)

// Service writes validated uploads into the icons directory.
type Service struct {
	dir    string
	logger *slog.Logger
}

// New returns an icon service rooted at dir.
func New(dir string, logger *slog.Logger) Service {
	if logger != nil {
		logger = logger.With("component", "icon")
	}
	return Service{dir: dir, logger: logger}
}

// Stored describes a persisted icon.
type Stored struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// Upload validates the transport metadata, parses the multipart body by
// hand, and stores the file under a name derived from its content hash so
// identical bytes always land on the identical name.
func (s Service) Upload(contentType string, contentLength int64, body io.Reader) (Stored, error) {
	if !strings.HasPrefix(contentType, "multipart/form-data") {
		return Stored{}, ErrContentType
	}
	boundary := boundaryFromContentType(contentType)
	if boundary == "" {
		return Stored{}, ErrBoundary
	}
	if contentLength > MaxUploadBytes {
		return Stored{}, ErrTooLarge
	}
	if contentLength <= 0 {
		return Stored{}, ErrNoFile
	}

	raw, err := io.ReadAll(io.LimitReader(body, MaxUploadBytes))
	if err != nil {
		return Stored{}, err
	}

	filename, data, ok := parseMultipart(raw, boundary)
	if !ok || len(data) == 0 {
		return Stored{}, ErrNoFile
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if _, allowed := allowedExtensions[ext]; !allowed {
		return Stored{}, ErrExtension
	}

	stored := StoredName(data, ext)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Stored{}, err
	}
	if err := os.WriteFile(filepath.Join(s.dir, stored), data, 0o644); err != nil {
		return Stored{}, err
	}
	if s.logger != nil {
		s.logger.Info("icon stored", "filename", stored, "bytes", len(data))
	}
	return Stored{Filename: stored, URL: "/icons/" + stored}, nil
}

// StoredName derives the content-addressed filename for the given bytes and
// validated extension.
func StoredName(data []byte, ext string) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:hashPrefixLen] + ext
}
