package icon

import (
	"bytes"
	"strings"
)

// parseMultipart extracts the first file part from a multipart body. The
// wire format is externally defined, so this is parsed by hand: segments are
// split on the boundary token, the disposition line must carry a filename
// attribute (quoted or unquoted), and the content is everything between the
// header separator and the segment's trailing line break.
func parseMultipart(body []byte, boundary string) (filename string, data []byte, ok bool) {
	delimiter := []byte("--" + boundary)
	for _, segment := range bytes.Split(body, delimiter) {
		if !bytes.Contains(segment, []byte("Content-Disposition")) || !bytes.Contains(segment, []byte("filename=")) {
			continue
		}
		name := dispositionFilename(segment)
		if name == "" {
			continue
		}
		separator := bytes.Index(segment, []byte("\r\n\r\n"))
		if separator == -1 {
			continue
		}
		content := segment[separator+4:]
		content = bytes.TrimSuffix(content, []byte("\r\n"))
		return name, content, true
	}
	return "", nil, false
}

func dispositionFilename(segment []byte) string {
	for _, line := range bytes.Split(segment, []byte("\r\n")) {
		if !bytes.Contains(line, []byte("Content-Disposition")) {
			continue
		}
		text := string(line)
		marker := strings.Index(text, "filename=")
		if marker == -1 {
			return ""
		}
		rest := text[marker+len("filename="):]
		if strings.HasPrefix(rest, `"`) {
			rest = rest[1:]
			if end := strings.Index(rest, `"`); end != -1 {
				return rest[:end]
			}
			return ""
		}
		if end := strings.Index(rest, ";"); end != -1 {
			rest = rest[:end]
		}
		return strings.TrimSpace(rest)
	}
	return ""
}

// boundaryFromContentType pulls the boundary parameter out of a
// multipart/form-data content type header.
func boundaryFromContentType(contentType string) string {
	for _, part := range strings.Split(contentType, ";") {
		part = strings.TrimSpace(part)
		if value, found := strings.CutPrefix(part, "boundary="); found {
			return strings.Trim(strings.TrimSpace(value), `"`)
		}
	}
	return ""
}
