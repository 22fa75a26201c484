package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tidemark/berth/internal/domain"
	"github.com/tidemark/berth/internal/engine"
	"github.com/tidemark/berth/internal/service/export"
	"github.com/tidemark/berth/internal/service/icon"
	"github.com/tidemark/berth/internal/service/reconcile"
	"github.com/tidemark/berth/internal/service/system"
	"github.com/tidemark/berth/internal/store"
)

// engineStub satisfies every engine-facing interface the router depends on.
type engineStub struct {
	containers []domain.Container
	calls      []string
	pingErr    error
	startErr   error
	policies   map[string]string
	stats      string
}

func (e *engineStub) record(call string) { e.calls = append(e.calls, call) }

func (e *engineStub) Ping(context.Context) error { return e.pingErr }

func (e *engineStub) ListContainers(context.Context) ([]domain.Container, error) {
	return e.containers, nil
}

func (e *engineStub) Start(_ context.Context, id string) error {
	e.record("start " + id)
	return e.startErr
}

func (e *engineStub) Stop(_ context.Context, id string) error {
	e.record("stop " + id)
	return nil
}

func (e *engineStub) Restart(_ context.Context, id string) error {
	e.record("restart " + id)
	return nil
}

func (e *engineStub) ForceRemove(_ context.Context, id string) error {
	e.record("rm -f " + id)
	return nil
}

func (e *engineStub) UpdateRestartPolicy(_ context.Context, id, policy string) error {
	if e.policies == nil {
		e.policies = map[string]string{}
	}
	e.policies[id] = policy
	return nil
}

func (e *engineStub) Inspect(_ context.Context, id string) (engine.Snapshot, error) {
	return engine.Snapshot{}, &engine.CommandError{
		Args:   []string{"inspect", id},
		Stderr: "No such container: " + id,
	}
}

func (e *engineStub) BuildImage(context.Context, string, string) error { return nil }

func (e *engineStub) Remove(_ context.Context, id string) error {
	e.record("rm " + id)
	return nil
}

func (e *engineStub) CreateContainer(_ context.Context, args []string) error {
	e.record("create " + strings.Join(args, " "))
	return nil
}

func (e *engineStub) ExportFilesystem(context.Context, string, string) error { return nil }

func (e *engineStub) ContainerStats(context.Context) (string, error) { return e.stats, nil }

func newTestRouter(t *testing.T, stub *engineStub) *Router {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	groups, err := store.NewGroups(filepath.Join(dir, "groups.json"))
	if err != nil {
		t.Fatal(err)
	}
	groupAliases, err := store.NewAliases(filepath.Join(dir, "group-aliases.json"))
	if err != nil {
		t.Fatal(err)
	}
	containerAliases, err := store.NewAliases(filepath.Join(dir, "container-aliases.json"))
	if err != nil {
		t.Fatal(err)
	}
	autostart, err := store.NewAutostart(filepath.Join(dir, "autostart.json"))
	if err != nil {
		t.Fatal(err)
	}

	return NewRouter(Deps{
		Logger:           logger,
		Engine:           stub,
		Groups:           groups,
		GroupAliases:     groupAliases,
		ContainerAliases: containerAliases,
		Autostart:        autostart,
		Reconciler:       reconcile.New(stub, logger),
		Exporter:         export.New(stub, filepath.Join(dir, "dockerfiles"), logger),
		Icons:            icon.New(filepath.Join(dir, "icons"), logger),
		Sampler:          system.NewSampler(),
		Top:              system.NewTop(stub),
		StaticDir:        filepath.Join(dir, "static"),
		IndexFile:        filepath.Join(dir, "static", "index.html"),
		IconsDir:         filepath.Join(dir, "icons"),
	})
}

func doJSON(t *testing.T, router *Router, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestListContainersIncludesAliases(t *testing.T) {
	stub := &engineStub{containers: []domain.Container{{ID: "abc", Name: "web"}}}
	router := newTestRouter(t, stub)
	router.deps.ContainerAliases.Write(store.Aliases{"abc": {Alias: "Web App"}})

	rec := doJSON(t, router, http.MethodGet, "/api/containers", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if _, ok := body["containers"]; !ok {
		t.Error("missing containers key")
	}
	aliases, ok := body["aliases"].(map[string]any)
	if !ok || len(aliases) != 1 {
		t.Errorf("aliases = %v", body["aliases"])
	}
}

func TestContainerActions(t *testing.T) {
	stub := &engineStub{}
	router := newTestRouter(t, stub)

	rec := doJSON(t, router, http.MethodPost, "/api/containers/abc/start", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodPost, "/api/containers/abc/delete", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if len(stub.calls) != 2 || stub.calls[0] != "start abc" || stub.calls[1] != "rm -f abc" {
		t.Errorf("calls = %v", stub.calls)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/containers/abc/explode", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unsupported action status = %d", rec.Code)
	}
}

func TestContainerActionCommandErrorCarriesDetails(t *testing.T) {
	stub := &engineStub{startErr: &engine.CommandError{
		Args:   []string{"start", "abc"},
		Stderr: "no such container",
	}}
	router := newTestRouter(t, stub)

	rec := doJSON(t, router, http.MethodPost, "/api/containers/abc/start", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["details"] != "no such container" {
		t.Errorf("details = %v", body["details"])
	}
}

func TestRestartPolicyValidation(t *testing.T) {
	stub := &engineStub{}
	router := newTestRouter(t, stub)

	rec := doJSON(t, router, http.MethodPost, "/api/containers/abc/restart-policy",
		map[string]string{"policy": "sometimes"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid policy status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/containers/abc/restart-policy",
		map[string]string{"policy": " Unless-Stopped "})
	if rec.Code != http.StatusOK {
		t.Fatalf("valid policy status = %d, body %s", rec.Code, rec.Body.String())
	}
	if stub.policies["abc"] != "unless-stopped" {
		t.Errorf("policy applied = %q", stub.policies["abc"])
	}
}

func TestSaveGroupsValidatesPayload(t *testing.T) {
	router := newTestRouter(t, &engineStub{})

	rec := doJSON(t, router, http.MethodPost, "/api/groups", map[string]any{"aliases": map[string]any{}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing groups status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/groups", map[string]any{
		"groups": map[string][]string{" media ": {"b", "a", "a", ""}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	groups := body["groups"].(map[string]any)
	members, ok := groups["media"].([]any)
	if !ok || len(members) != 2 {
		t.Errorf("sanitized groups = %v", body["groups"])
	}
}

func TestSaveAutostartReturnsWarnings(t *testing.T) {
	stub := &engineStub{startErr: &engine.CommandError{
		Args:   []string{"start", "broken"},
		Stderr: "no such container",
	}}
	router := newTestRouter(t, stub)

	rec := doJSON(t, router, http.MethodPost, "/api/autostart", map[string]any{
		"autostart": map[string][]string{"containers": {"broken"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	warnings, ok := body["warnings"].([]any)
	if !ok || len(warnings) == 0 {
		t.Fatalf("warnings = %v", body["warnings"])
	}
	if !strings.Contains(warnings[0].(string), "no such container") {
		t.Errorf("warning = %v", warnings[0])
	}
}

func TestContainerAliasesMergeOnSave(t *testing.T) {
	router := newTestRouter(t, &engineStub{})
	router.deps.ContainerAliases.Write(store.Aliases{"keep": {Alias: "Kept"}})

	rec := doJSON(t, router, http.MethodPost, "/api/container-aliases", map[string]any{
		"aliases": map[string]any{"new": map[string]string{"alias": "Fresh"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	aliases := body["aliases"].(map[string]any)
	if len(aliases) != 2 {
		t.Errorf("merged aliases = %v", aliases)
	}
}

func TestGroupExportUnknownGroup(t *testing.T) {
	router := newTestRouter(t, &engineStub{})
	rec := doJSON(t, router, http.MethodGet, "/api/groups/nope/export", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestUploadIconTooLarge(t *testing.T) {
	router := newTestRouter(t, &engineStub{})
	req := httptest.NewRequest(http.MethodPost, "/api/upload-icon", bytes.NewReader([]byte("x")))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=b")
	req.ContentLength = icon.MaxUploadBytes + 1
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestHealthzReportsEngineFailure(t *testing.T) {
	stub := &engineStub{pingErr: &engine.CommandError{Args: []string{"version"}, Stderr: "daemon down"}}
	router := newTestRouter(t, stub)
	rec := doJSON(t, router, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rec.Code)
	}

	stub.pingErr = nil
	rec = doJSON(t, router, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("healthy status = %d", rec.Code)
	}
}

func TestSystemTopRoute(t *testing.T) {
	stub := &engineStub{stats: "aaa\tweb\t12.5%\t100MiB / 1GiB\t9.77%\n"}
	router := newTestRouter(t, stub)
	rec := doJSON(t, router, http.MethodGet, "/api/system-top?scope=containers&sort=cpu&limit=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["limit"] != float64(5) {
		t.Errorf("limit = %v", body["limit"])
	}
}

func TestStaticTraversalBlocked(t *testing.T) {
	router := newTestRouter(t, &engineStub{})
	req := httptest.NewRequest(http.MethodGet, "/static/../groups.json", nil)
	// Bypass the client-side path cleaning ServeMux relies on.
	req.URL.Path = "/static/../groups.json"
	rec := httptest.NewRecorder()
	router.serveFrom(rec, req, router.deps.StaticDir, "/static/")
	if rec.Code == http.StatusOK {
		t.Errorf("traversal served with status %d", rec.Code)
	}
}
