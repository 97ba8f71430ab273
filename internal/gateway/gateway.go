// Package gateway is the authenticated, TCP-reachable face of the daemon
// (spec.md section 4.11): it extracts and verifies a bearer token,
// enforces project-enablement and write-scope, audits every request, then
// delegates in-process to internal/httpapi's handlers so the route table
// itself is never duplicated (spec.md section 9). Grounded on the
// teacher's ensureLeader pre-flight guard in pkg/api/server.go — there, a
// gRPC method refuses to proceed unless the node holds Raft leadership;
// here, an HTTP middleware refuses to proceed unless the caller carries a
// valid, sufficiently-scoped token for an enabled project.
package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/hack-dance/hackd/internal/audit"
	"github.com/hack-dance/hackd/internal/model"
	"github.com/hack-dance/hackd/internal/token"
	"github.com/rs/zerolog"
)

// Config carries the gateway's runtime-resolved settings, per spec.md
// section 4.11.
type Config struct {
	AllowWrites bool

	// EnabledProjects is resolved at daemon startup from
	// readProjectsRegistry() x per-project gateway.enabled. A project
	// absent from this set is treated as disabled.
	EnabledProjects map[string]bool
}

// Gateway wraps an internal/httpapi router with authentication,
// authorization, and audit logging.
type Gateway struct {
	logger zerolog.Logger
	tokens *token.Store
	audit  *audit.Log
	inner  http.Handler

	mu     sync.RWMutex
	config Config
}

// New builds a Gateway delegating to inner (normally the shared
// internal/httpapi router).
func New(logger zerolog.Logger, tokens *token.Store, auditLog *audit.Log, cfg Config, inner http.Handler) *Gateway {
	if cfg.EnabledProjects == nil {
		cfg.EnabledProjects = map[string]bool{}
	}
	return &Gateway{logger: logger, tokens: tokens, audit: auditLog, inner: inner, config: cfg}
}

// SetEnabledProjects replaces the cached enabledProjects list, e.g. after
// re-reading the project registry.
func (g *Gateway) SetEnabledProjects(enabled map[string]bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.config.EnabledProjects = enabled
}

func (g *Gateway) snapshotConfig() Config {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.config
}

// ServeHTTP implements the seven-step pipeline from spec.md section 4.11.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := g.snapshotConfig()

	rec := httptest.NewRecorder()
	status, tokenID := g.authenticateAndDelegate(rec, r, cfg)

	for k, vs := range rec.Header() {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(status)
	w.Write(rec.Body.Bytes())

	g.audit.Record(model.AuditEntry{
		Ts:            time.Now(),
		Method:        r.Method,
		Path:          audit.SanitizePath(r.URL.RequestURI()),
		Status:        status,
		TokenID:       tokenID,
		RemoteAddress: r.RemoteAddr,
		UserAgent:     r.UserAgent(),
	})
}

func (g *Gateway) authenticateAndDelegate(rec *httptest.ResponseRecorder, r *http.Request, cfg Config) (status int, tokenID string) {
	cleartext, isWSUpgrade := extractToken(r)
	if cleartext == "" {
		writeErr(rec, http.StatusUnauthorized, "missing_token")
		return http.StatusUnauthorized, ""
	}

	tok, err := g.tokens.Verify(cleartext)
	if err != nil {
		writeErr(rec, http.StatusUnauthorized, "invalid_token")
		return http.StatusUnauthorized, ""
	}
	tokenID = tok.ID

	if projectID, ok := projectIDFromPath(r.URL.Path); ok {
		if !cfg.EnabledProjects[projectID] {
			writeErr(rec, http.StatusForbidden, "project_disabled")
			return http.StatusForbidden, tokenID
		}
	}

	isWrite := !isReadOnlyMethod(r.Method) || (isWSUpgrade && isShellStreamPath(r.URL.Path))
	if isWrite {
		if !cfg.AllowWrites {
			writeErr(rec, http.StatusForbidden, "writes_disabled")
			return http.StatusForbidden, tokenID
		}
		if tok.Scope != model.ScopeWrite {
			writeErr(rec, http.StatusForbidden, "write_scope_required")
			return http.StatusForbidden, tokenID
		}
	}

	if r.URL.Path == "/v1/projects" {
		return g.delegateProjectsFiltered(rec, r, cfg), tokenID
	}

	g.inner.ServeHTTP(rec, r)
	return rec.Code, tokenID
}

// delegateProjectsFiltered runs the inner handler then strips any project
// not present in enabledProjects from the response body, per spec.md
// section 4.11 step 5. include_unregistered is dropped from the query
// before delegating since an ungated gateway caller must never discover
// unregistered projects.
func (g *Gateway) delegateProjectsFiltered(rec *httptest.ResponseRecorder, r *http.Request, cfg Config) int {
	q := r.URL.Query()
	q.Del("include_unregistered")
	r.URL.RawQuery = q.Encode()

	g.inner.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		return rec.Code
	}

	var payload struct {
		UpdatedAtMs int64            `json:"updatedAtMs"`
		Projects    []map[string]any `json:"projects"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		return rec.Code
	}

	filtered := payload.Projects[:0]
	for _, p := range payload.Projects {
		project, _ := p["project"].(map[string]any)
		id, _ := project["projectId"].(string)
		if cfg.EnabledProjects[id] {
			filtered = append(filtered, p)
		}
	}
	payload.Projects = filtered

	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return rec.Code
	}
	out = append(out, '\n')
	rec.Body = bytes.NewBuffer(out)
	return rec.Code
}

func writeErr(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	data, _ := json.MarshalIndent(map[string]string{"error": code}, "", "  ")
	w.Write(data)
	w.Write([]byte("\n"))
}

func isReadOnlyMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func isShellStreamPath(path string) bool {
	return strings.Contains(path, "/shells/") && strings.HasSuffix(path, "/stream")
}

func projectIDFromPath(path string) (string, bool) {
	const prefix = "/control-plane/projects/"
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(path, prefix)
	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return rest, rest != ""
	}
	return rest[:idx], rest[:idx] != ""
}

// extractToken pulls a bearer token from the Authorization header,
// X-Hack-Token, or — only for WebSocket upgrade requests — the token/
// access_token query parameter, per spec.md section 4.11 step 1.
func extractToken(r *http.Request) (cleartext string, isWSUpgrade bool) {
	isWSUpgrade = strings.EqualFold(r.Header.Get("Upgrade"), "websocket")

	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer "), isWSUpgrade
	}
	if h := r.Header.Get("X-Hack-Token"); h != "" {
		return h, isWSUpgrade
	}
	if isWSUpgrade {
		q := r.URL.Query()
		if t := q.Get("token"); t != "" {
			return t, isWSUpgrade
		}
		if t := q.Get("access_token"); t != "" {
			return t, isWSUpgrade
		}
	}
	return "", isWSUpgrade
}
