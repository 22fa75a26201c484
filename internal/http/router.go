// Package httpx wires the HTTP API to the services behind it.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tidemark/berth/internal/domain"
	"github.com/tidemark/berth/internal/service/export"
	"github.com/tidemark/berth/internal/service/icon"
	"github.com/tidemark/berth/internal/service/reconcile"
	"github.com/tidemark/berth/internal/service/system"
	"github.com/tidemark/berth/internal/service/wallpaper"
	"github.com/tidemark/berth/internal/store"
)

const healthCheckTimeout = 2 * time.Second

var restartPolicies = map[string]struct{}{
	"no": {}, "always": {}, "unless-stopped": {}, "on-failure": {},
}

// Engine is the container engine surface the router drives directly.
type Engine interface {
	Ping(ctx context.Context) error
	ListContainers(ctx context.Context) ([]domain.Container, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) error
	ForceRemove(ctx context.Context, id string) error
	UpdateRestartPolicy(ctx context.Context, id, policy string) error
}

// Deps carries everything the router serves.
type Deps struct {
	Logger           *slog.Logger
	Engine           Engine
	Groups           *store.Store[store.Groups]
	GroupAliases     *store.Store[store.Aliases]
	ContainerAliases *store.Store[store.Aliases]
	Autostart        *store.Store[domain.AutostartConfig]
	Reconciler       reconcile.Service
	Exporter         export.Service
	Icons            icon.Service
	Sampler          *system.Sampler
	Top              *system.Top
	Wallpaper        *wallpaper.Cache
	StaticDir        string
	IndexFile        string
	IconsDir         string
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux  *http.ServeMux
	deps Deps

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
}

// NewRouter assembles routes with dependencies.
func NewRouter(deps Deps) *Router {
	r := &Router{mux: http.NewServeMux(), deps: deps}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) register() {
	r.mux.HandleFunc("/", r.audit(r.handleIndex))
	r.mux.HandleFunc("/static/", r.audit(r.handleStatic))
	r.mux.HandleFunc("/icons/", r.audit(r.handleIcons))

	r.mux.HandleFunc("/api/containers", r.audit(r.handleContainers))
	r.mux.HandleFunc("/api/containers/create-from-dockerfile", r.audit(r.handleCreateFromDockerfile))
	r.mux.HandleFunc("/api/containers/create-from-command", r.audit(r.handleCreateFromCommand))
	r.mux.HandleFunc("/api/containers/", r.audit(r.handleContainerSubroutes))
	r.mux.HandleFunc("/api/groups", r.audit(r.handleGroups))
	r.mux.HandleFunc("/api/groups/", r.audit(r.handleGroupSubroutes))
	r.mux.HandleFunc("/api/autostart", r.audit(r.handleAutostart))
	r.mux.HandleFunc("/api/container-aliases", r.audit(r.handleContainerAliases))
	r.mux.HandleFunc("/api/upload-icon", r.audit(r.handleUploadIcon))
	r.mux.HandleFunc("/api/system-stats", r.audit(r.handleSystemStats))
	r.mux.HandleFunc("/api/system-top", r.audit(r.handleSystemTop))
	r.mux.HandleFunc("/api/bing-wallpaper", r.audit(r.handleWallpaper))
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
}

func (r *Router) handleContainers(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	containers, err := r.deps.Engine.ListContainers(req.Context())
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"containers": containers,
		"aliases":    r.deps.ContainerAliases.Read(),
	})
}

func (r *Router) handleContainerSubroutes(w http.ResponseWriter, req *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(req.URL.Path, "/api/containers/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "invalid container path")
		return
	}
	id, tail := parts[0], parts[1]

	switch req.Method {
	case http.MethodGet:
		switch tail {
		case "export":
			r.handleExportContainer(w, req, id)
		case "dockerfile":
			r.handleGetDockerfile(w, req, id)
		default:
			r.notFound(w)
		}
	case http.MethodPost:
		switch tail {
		case "restart-policy":
			r.handleRestartPolicy(w, req, id)
		case "dockerfile":
			r.handleSaveDockerfile(w, req, id)
		default:
			r.handleContainerAction(w, req, id, tail)
		}
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleContainerAction(w http.ResponseWriter, req *http.Request, id, action string) {
	actions := map[string]func(context.Context, string) error{
		"start":   r.deps.Engine.Start,
		"stop":    r.deps.Engine.Stop,
		"restart": r.deps.Engine.Restart,
		"delete":  r.deps.Engine.ForceRemove,
	}
	run, ok := actions[action]
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported action")
		return
	}
	if err := run(req.Context(), id); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleRestartPolicy(w http.ResponseWriter, req *http.Request, id string) {
	var payload struct {
		Policy *string `json:"policy"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil || payload.Policy == nil {
		writeError(w, http.StatusBadRequest, "missing restart policy payload")
		return
	}
	policy := strings.ToLower(strings.TrimSpace(*payload.Policy))
	if _, ok := restartPolicies[policy]; !ok {
		writeError(w, http.StatusBadRequest, "invalid restart policy")
		return
	}
	if err := r.deps.Engine.UpdateRestartPolicy(req.Context(), id, policy); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"restart_policy": policy})
}

func (r *Router) handleExportContainer(w http.ResponseWriter, req *http.Request, id string) {
	label, payload, err := r.deps.Exporter.Export(req.Context(), id, includeData(req))
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeZip(w, label+"-export.zip", payload)
}

func (r *Router) handleGroupSubroutes(w http.ResponseWriter, req *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(req.URL.Path, "/api/groups/"), "/")
	name, tail, found := strings.Cut(rest, "/")
	if !found || tail != "export" || name == "" {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	members := r.deps.Groups.Read()[name]
	if len(members) == 0 {
		writeError(w, http.StatusNotFound, "group empty or unknown")
		return
	}
	payload, err := r.deps.Exporter.ExportGroup(req.Context(), members, includeData(req))
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeZip(w, export.SafeLabel(name, "group")+"-export.zip", payload)
}

func (r *Router) handleGetDockerfile(w http.ResponseWriter, req *http.Request, id string) {
	artifact, err := r.deps.Exporter.GetDockerfile(req.Context(), id)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, artifact)
}

func (r *Router) handleSaveDockerfile(w http.ResponseWriter, req *http.Request, id string) {
	var payload struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	artifact, err := r.deps.Exporter.SaveDockerfile(req.Context(), id, payload.Content)
	if err != nil {
		if errors.Is(err, export.ErrEmptyDockerfile) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": artifact.Path, "status": "saved"})
}

func (r *Router) handleCreateFromDockerfile(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var input export.CreateInput
	if err := json.NewDecoder(req.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := r.deps.Exporter.CreateFromDockerfile(req.Context(), input); err != nil {
		if errors.Is(err, export.ErrMissingCreateInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "created", "name": input.Name})
}

func (r *Router) handleCreateFromCommand(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := r.deps.Exporter.CreateFromCommand(req.Context(), payload.Command); err != nil {
		if errors.Is(err, export.ErrEmptyCommand) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "executed"})
}

func (r *Router) handleGroups(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"groups":  r.deps.Groups.Read(),
			"aliases": r.deps.GroupAliases.Read(),
		})
	case http.MethodPost:
		var payload struct {
			Groups  *store.Groups  `json:"groups"`
			Aliases *store.Aliases `json:"aliases"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "groups and aliases must be objects")
			return
		}
		if payload.Groups == nil {
			writeError(w, http.StatusBadRequest, "missing groups payload")
			return
		}
		groups, err := r.deps.Groups.Write(*payload.Groups)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		aliases := store.Aliases{}
		if payload.Aliases != nil {
			aliases = *payload.Aliases
		}
		savedAliases, err := r.deps.GroupAliases.Write(aliases)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"groups": groups, "aliases": savedAliases})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleContainerAliases(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"aliases": r.deps.ContainerAliases.Read()})
	case http.MethodPost:
		var payload struct {
			Aliases *store.Aliases `json:"aliases"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil || payload.Aliases == nil {
			writeError(w, http.StatusBadRequest, "missing aliases payload")
			return
		}
		// Saving merges over the stored set so partial updates keep
		// untouched entries.
		merged := r.deps.ContainerAliases.Read()
		for key, entry := range *payload.Aliases {
			merged[key] = entry
		}
		saved, err := r.deps.ContainerAliases.Write(merged)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"aliases": saved})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleAutostart(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"autostart": r.deps.Autostart.Read()})
	case http.MethodPost:
		var payload struct {
			Autostart *domain.AutostartConfig `json:"autostart"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil || payload.Autostart == nil {
			writeError(w, http.StatusBadRequest, "missing autostart payload")
			return
		}
		saved, err := r.deps.Autostart.Write(*payload.Autostart)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		groups := r.deps.Groups.Read()
		warnings := r.deps.Reconciler.SyncRestartPolicies(req.Context(), saved, groups)
		warnings = append(warnings, r.deps.Reconciler.EnsureAutostartRunning(req.Context(), saved, groups)...)

		response := map[string]any{"autostart": saved}
		if len(warnings) > 0 {
			response["warnings"] = warnings
		}
		writeJSON(w, http.StatusOK, response)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleUploadIcon(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	stored, err := r.deps.Icons.Upload(req.Header.Get("Content-Type"), req.ContentLength, req.Body)
	if err != nil {
		switch {
		case errors.Is(err, icon.ErrTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, icon.ErrContentType), errors.Is(err, icon.ErrBoundary),
			errors.Is(err, icon.ErrNoFile), errors.Is(err, icon.ErrExtension):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (r *Router) handleSystemStats(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, r.deps.Sampler.Stats())
}

func (r *Router) handleSystemTop(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	query := req.URL.Query()
	limit := 10
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	report, err := r.deps.Top.Query(req.Context(), query.Get("scope"), query.Get("sort"), limit)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (r *Router) handleWallpaper(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	image, err := r.deps.Wallpaper.Get(req.Context(), req.URL.Query().Get("mkt"))
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":   "failed to fetch wallpaper",
			"details": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, image)
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()
	if err := r.deps.Engine.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"engine": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func includeData(req *http.Request) bool {
	switch strings.ToLower(req.URL.Query().Get("includeData")) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func writeZip(w http.ResponseWriter, filename string, payload []byte) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		requestID := strings.TrimSpace(req.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
			"request_id", requestID,
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.deps.Logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.deps.Logger.Warn("http_request", fields...)
		default:
			r.deps.Logger.Info("http_request", fields...)
		}
		r.recordRequestMetrics(req.Method, routeLabel(req.URL.Path), status, duration)
	}
}

// routeLabel collapses per-resource paths so metric cardinality stays bounded.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/containers/"):
		return "/api/containers/*"
	case strings.HasPrefix(path, "/api/groups/"):
		return "/api/groups/*"
	case strings.HasPrefix(path, "/static/"):
		return "/static/*"
	case strings.HasPrefix(path, "/icons/"):
		return "/icons/*"
	}
	return path
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
