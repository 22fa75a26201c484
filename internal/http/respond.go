package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tidemark/berth/internal/engine"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeCommandError maps an engine failure to a 500 carrying the captured
// stderr alongside the message.
func writeCommandError(w http.ResponseWriter, err error) {
	var cmdErr *engine.CommandError
	if errors.As(err, &cmdErr) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   cmdErr.Error(),
			"details": cmdErr.Stderr,
		})
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
