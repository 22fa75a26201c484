package httpx

import (
	"net/http"
	"path/filepath"
	"strings"
)

func (r *Router) handleIndex(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	http.ServeFile(w, req, r.deps.IndexFile)
}

func (r *Router) handleStatic(w http.ResponseWriter, req *http.Request) {
	r.serveFrom(w, req, r.deps.StaticDir, "/static/")
}

func (r *Router) handleIcons(w http.ResponseWriter, req *http.Request) {
	r.serveFrom(w, req, r.deps.IconsDir, "/icons/")
}

// serveFrom resolves the request path inside root and refuses anything that
// escapes it.
func (r *Router) serveFrom(w http.ResponseWriter, req *http.Request, root, prefix string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	name := strings.TrimPrefix(req.URL.Path, prefix)
	if name == "" {
		r.notFound(w)
		return
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		r.notFound(w)
		return
	}
	target := filepath.Join(rootAbs, filepath.FromSlash(name))
	if target != rootAbs && !strings.HasPrefix(target, rootAbs+string(filepath.Separator)) {
		r.notFound(w)
		return
	}
	http.ServeFile(w, req, target)
}
