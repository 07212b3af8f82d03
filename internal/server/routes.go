package server

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/harun/mission-control/pkg/offline"
)

// knownRoutes bounds the route label cardinality of the HTTP metrics
var knownRoutes = map[string]bool{
	"/auth/login": true, "/auth/logout": true, "/auth/check": true, "/auth/register": true,
	"/mc/data": true, "/mc/activity": true, "/mc/status": true, "/mc/system": true,
	"/mc/weather": true, "/mc/digest": true,
	"/mc/github/repos": true, "/mc/github/commits": true, "/mc/github/issues": true, "/mc/github/prs": true,
	"/mc/openclaw/agents": true, "/mc/openclaw/logs": true, "/mc/openclaw/sessions": true, "/mc/openclaw/costs": true,
	"/mc/stripe/mrr": true, "/mc/stripe/customers": true,
	"/mc/webhook": true, "/mc/backup": true, "/mc/agent/task": true,
	"/api/proxy": true, "/api/auth": true,
	"/sw.js": true, "/manifest.json": true, "/healthz": true, "/metrics": true,
}

func routeLabel(p string) string {
	if knownRoutes[p] {
		return p
	}
	return "unmatched"
}

// methods dispatches on the request method and answers 405 for the rest
func methods(handlers map[string]http.HandlerFunc) http.HandlerFunc {
	allowed := make([]string, 0, len(handlers))
	for m := range handlers {
		allowed = append(allowed, m)
	}
	sort.Strings(allowed)
	allow := strings.Join(allowed, ", ")

	return func(w http.ResponseWriter, r *http.Request) {
		if h, ok := handlers[r.Method]; ok {
			h(w, r)
			return
		}
		w.Header().Set("Allow", allow)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func get(h http.HandlerFunc) http.HandlerFunc {
	return methods(map[string]http.HandlerFunc{http.MethodGet: h})
}

func post(h http.HandlerFunc) http.HandlerFunc {
	return methods(map[string]http.HandlerFunc{http.MethodPost: h})
}

func (s *Server) routes() (http.Handler, error) {
	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("/auth/login", post(s.handleLogin))
	mux.HandleFunc("/auth/logout", post(s.handleLogout))
	mux.HandleFunc("/auth/check", get(s.handleCheck))
	mux.HandleFunc("/mc/webhook", post(s.handleWebhook))
	mux.HandleFunc("/api/proxy", s.handleProxy)
	mux.HandleFunc("/api/auth", s.handleProxyAuth)
	mux.HandleFunc("/healthz", get(s.handleHealthz))
	if s.cfg.Metrics != nil {
		mux.Handle("/metrics", s.cfg.Metrics.Handler())
	}

	worker, err := offline.WorkerHandler(s.cfg.Offline)
	if err != nil {
		return nil, err
	}
	mux.Handle("/sw.js", worker)
	manifest, err := offline.ManifestHandler(s.cfg.Manifest)
	if err != nil {
		return nil, err
	}
	mux.Handle("/manifest.json", manifest)

	// Session protected
	mux.HandleFunc("/auth/register", post(s.protect(s.handleRegister)))
	mux.HandleFunc("/mc/data", s.protect(methods(map[string]http.HandlerFunc{
		http.MethodGet:  s.handleGetData,
		http.MethodPost: s.handlePostData,
	})))
	mux.HandleFunc("/mc/activity", s.protect(methods(map[string]http.HandlerFunc{
		http.MethodGet:  s.handleListActivity,
		http.MethodPost: s.handleAppendActivity,
	})))
	mux.HandleFunc("/mc/status", get(s.protect(s.handleStatus)))
	mux.HandleFunc("/mc/system", get(s.protect(s.handleSystem)))
	mux.HandleFunc("/mc/weather", get(s.protect(s.handleWeather)))
	mux.HandleFunc("/mc/digest", get(s.protect(s.handleDigest)))
	mux.HandleFunc("/mc/backup", post(s.protect(s.handleBackup)))
	mux.HandleFunc("/mc/agent/task", post(s.protect(s.handleAgentTask)))

	mux.HandleFunc("/mc/github/repos", get(s.protect(s.handleGitHubRepos)))
	mux.HandleFunc("/mc/github/commits", get(s.protect(s.handleGitHubCommits)))
	mux.HandleFunc("/mc/github/issues", get(s.protect(s.handleGitHubIssues)))
	mux.HandleFunc("/mc/github/prs", get(s.protect(s.handleGitHubPRs)))

	mux.HandleFunc("/mc/openclaw/agents", get(s.protect(s.handleAgents)))
	mux.HandleFunc("/mc/openclaw/logs", get(s.protect(s.handleAgentLogs)))
	mux.HandleFunc("/mc/openclaw/sessions", get(s.protect(s.handleAgentSessions)))
	mux.HandleFunc("/mc/openclaw/costs", get(s.protect(s.handleAgentCosts)))

	mux.HandleFunc("/mc/stripe/mrr", get(s.protect(s.handleStripeMRR)))
	mux.HandleFunc("/mc/stripe/customers", get(s.protect(s.handleStripeCustomers)))

	mux.HandleFunc("/", s.handleStatic)

	return mux, nil
}

// handleStatic serves the optional front-end. HTML pages other than the
// login page need a session; everything unknown is a JSON 404.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if s.cfg.PublicDir == "" || (r.Method != http.MethodGet && r.Method != http.MethodHead) {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	name := path.Clean("/" + r.URL.Path)
	if name == "/" {
		name = "/index.html"
	}
	file := filepath.Join(s.cfg.PublicDir, filepath.FromSlash(name))
	info, err := os.Stat(file)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	serve := func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, file)
	}
	if strings.HasSuffix(name, ".html") && name != loginPage {
		s.protect(serve)(w, r)
		return
	}
	serve(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
