package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dagbolade/mcp-readonly-gateway/internal/allowlist"
	"github.com/dagbolade/mcp-readonly-gateway/internal/audit"
	"github.com/dagbolade/mcp-readonly-gateway/internal/backend"
	"github.com/dagbolade/mcp-readonly-gateway/internal/dispatch"
	"github.com/dagbolade/mcp-readonly-gateway/internal/git"
	"github.com/dagbolade/mcp-readonly-gateway/internal/redaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEnvironment is a gateway instance wired from real components and
// served over HTTP.
type testEnvironment struct {
	Root       string
	AuditDir   string
	Recorder   *audit.Recorder
	Index      *audit.SQLiteIndex
	HTTPServer *httptest.Server
	t          *testing.T
}

type envOptions struct {
	kind      dispatch.Kind
	allowlist string
	files     map[string]string
	configure func(*dispatch.Options)
}

func setupTestEnvironment(t *testing.T, opts envOptions) *testEnvironment {
	t.Helper()

	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	for rel, content := range opts.files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	allow, err := allowlist.Parse([]byte(opts.allowlist))
	require.NoError(t, err)
	routes, err := json.Marshal(map[string][]string{"actions": opts.kind.Actions()})
	require.NoError(t, err)
	actions, err := allowlist.ParseRoutes(string(routes))
	require.NoError(t, err)
	filter, err := redaction.NewFilter([]string{`(?i)aws_secret_access_key`})
	require.NoError(t, err)

	dopts := dispatch.Options{
		Kind:      opts.kind,
		Root:      root,
		Allowlist: allow,
		Actions:   actions,
		Filter:    filter,
		Git:       git.NewCLI(root, 5*time.Second, redaction.MaxContentBytes),
		Fixtures:  backend.NewFixtures(filepath.Join(root, "fixtures")),
		TestMode:  true,
	}
	if opts.configure != nil {
		opts.configure(&dopts)
	}
	d, err := dispatch.New(dopts)
	require.NoError(t, err)

	index, err := audit.NewSQLiteIndex(filepath.Join(root, "state", "audit.db"))
	require.NoError(t, err)
	sealer, err := audit.NewDigestSealer(audit.AlgoSHA256)
	require.NoError(t, err)

	auditDir := filepath.Join(root, "evidence", "ai", "mcp-audit")
	recorder := audit.NewRecorder(auditDir, sealer, index)

	srv := New(Config{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second}, d, recorder)
	env := &testEnvironment{
		Root:       root,
		AuditDir:   auditDir,
		Recorder:   recorder,
		Index:      index,
		HTTPServer: httptest.NewServer(srv.Handler()),
		t:          t,
	}

	t.Cleanup(func() {
		env.HTTPServer.Close()
		env.Recorder.Close()
	})

	return env
}

// Query posts body as the given caller and returns status and decoded body.
func (e *testEnvironment) Query(identity, tenant string, body any) (int, map[string]any) {
	e.t.Helper()

	data, err := json.Marshal(body)
	require.NoError(e.t, err)

	req, err := http.NewRequest(http.MethodPost, e.HTTPServer.URL+"/query", bytes.NewReader(data))
	require.NoError(e.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-MCP-Identity", identity)
	req.Header.Set("X-MCP-Tenant", tenant)
	req.Header.Set("X-MCP-Request-Id", "scenario")

	resp, err := e.HTTPServer.Client().Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(e.t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

// AuditDirs waits for pending records and returns the audit directories.
func (e *testEnvironment) AuditDirs() []string {
	e.t.Helper()
	e.Recorder.Wait()

	entries, err := os.ReadDir(e.AuditDir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(e.t, err)

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			dirs = append(dirs, filepath.Join(e.AuditDir, entry.Name()))
		}
	}
	return dirs
}

// RequireSingleAuditRecord checks that exactly one sealed record exists and
// returns its decision document.
func (e *testEnvironment) RequireSingleAuditRecord() map[string]any {
	e.t.Helper()

	dirs := e.AuditDirs()
	require.Len(e.t, dirs, 1)

	for _, name := range []string{audit.RequestFile, audit.DecisionFile, audit.ResponseFile} {
		data, err := os.ReadFile(filepath.Join(dirs[0], name))
		require.NoError(e.t, err)
		require.True(e.t, json.Valid(data), "%s is not valid JSON", name)
		require.True(e.t, strings.HasSuffix(string(data), "\n"))
	}

	manifest, err := os.ReadFile(filepath.Join(dirs[0], "manifest.sha256"))
	require.NoError(e.t, err)
	assert.Len(e.t, strings.Split(strings.TrimSpace(string(manifest)), "\n"), 3)

	var decision map[string]any
	data, err := os.ReadFile(filepath.Join(dirs[0], audit.DecisionFile))
	require.NoError(e.t, err)
	require.NoError(e.t, json.Unmarshal(data, &decision))
	return decision
}

func evidenceEnv(t *testing.T) *testEnvironment {
	return setupTestEnvironment(t, envOptions{
		kind:      dispatch.KindEvidence,
		allowlist: "roots: [evidence]\n",
		files: map[string]string{
			"evidence/acme/report.json":  `{"status":"pass"}`,
			"evidence/other/report.json": `{"status":"fail"}`,
		},
	})
}

func TestScenarioEvidenceReadOwnTenant(t *testing.T) {
	env := evidenceEnv(t)

	status, body := env.Query("tenant", "acme", map[string]any{
		"action": "read_file",
		"params": map[string]any{"path": "evidence/acme/report.json"},
	})

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, map[string]any{
		"path":    "evidence/acme/report.json",
		"content": `{"status":"pass"}`,
	}, body["data"])

	decision := env.RequireSingleAuditRecord()
	assert.Equal(t, true, decision["allowed"])
	assert.Equal(t, "ok", decision["reason"])
}

func TestScenarioEvidenceOtherTenant(t *testing.T) {
	env := evidenceEnv(t)

	status, body := env.Query("tenant", "acme", map[string]any{
		"action": "read_file",
		"params": map[string]any{"path": "evidence/other/report.json"},
	})

	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, map[string]any{"ok": false, "error": "tenant_isolation"}, body)

	decision := env.RequireSingleAuditRecord()
	assert.Equal(t, false, decision["allowed"])
	assert.Equal(t, "tenant_isolation", decision["reason"])
}

func TestScenarioOperatorOutsidePlatform(t *testing.T) {
	for _, action := range []string{"read_file", "list_evidence", "not_an_action_in_routes"} {
		t.Run(action, func(t *testing.T) {
			env := evidenceEnv(t)

			status, body := env.Query("operator", "acme", map[string]any{
				"action": action,
				"params": map[string]any{"path": "evidence/acme/report.json"},
			})

			if action == "not_an_action_in_routes" {
				// The routes check runs first.
				assert.Equal(t, http.StatusForbidden, status)
				assert.Equal(t, "action_not_allowed", body["error"])
			} else {
				assert.Equal(t, http.StatusForbidden, status)
				assert.Equal(t, map[string]any{"ok": false, "error": "operator_tenant_restricted"}, body)
			}
			env.RequireSingleAuditRecord()
		})
	}
}

func TestScenarioPrometheusEmptyRange(t *testing.T) {
	var hits int
	var mu sync.Mutex
	prom := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.Write([]byte(`{"status":"success"}`))
	}))
	defer prom.Close()

	env := setupTestEnvironment(t, envOptions{
		kind:      dispatch.KindObservability,
		allowlist: "prometheus:\n  base_url: " + prom.URL + "\n  queries:\n    - {name: up, expr: up}\n",
		configure: func(o *dispatch.Options) {
			f := backend.NewForwarder(time.Second)
			o.TestMode = false
			o.ObsLive = true
			o.Prometheus = backend.NewPrometheus(f, prom.URL)
			o.Loki = backend.NewLoki(f, prom.URL)
		},
	})

	status, body := env.Query("tenant", "acme", map[string]any{
		"action": "query_prometheus",
		"params": map[string]any{"query_name": "up", "start": 1000, "end": 1000},
	})

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, map[string]any{"ok": false, "error": "range_invalid"}, body)
	env.RequireSingleAuditRecord()

	mu.Lock()
	assert.Zero(t, hits, "no outbound call for an invalid range")
	mu.Unlock()
}

func TestScenarioPrometheusLive(t *testing.T) {
	queries := make(chan string, 1)
	prom := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.Query().Get("query")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","data":{"resultType":"matrix","result":[]}}`))
	}))
	defer prom.Close()

	env := setupTestEnvironment(t, envOptions{
		kind:      dispatch.KindObservability,
		allowlist: "prometheus:\n  queries:\n    - {name: up, expr: 'up{job=\"api\"}'}\n",
		configure: func(o *dispatch.Options) {
			f := backend.NewForwarder(time.Second)
			o.TestMode = false
			o.ObsLive = true
			o.Prometheus = backend.NewPrometheus(f, prom.URL)
			o.Loki = backend.NewLoki(f, prom.URL)
		},
	})

	status, body := env.Query("operator", "platform", map[string]any{
		"action": "query_prometheus",
		"params": map[string]any{"query_name": "up", "start": 0, "end": 600, "step": 30},
	})

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, `up{job="api"}`, <-queries)
	assert.Equal(t, "success", body["data"].(map[string]any)["status"])
	assert.Equal(t, "live", env.RequireSingleAuditRecord()["reason"])
}

func TestScenarioObservabilityFixture(t *testing.T) {
	env := setupTestEnvironment(t, envOptions{
		kind:      dispatch.KindObservability,
		allowlist: "loki:\n  queries:\n    - {name: errors, expr: '{job=\"api\"}'}\nprometheus:\n  queries:\n    - {name: up, expr: up}\n",
		files: map[string]string{
			"fixtures/loki.json": `{"status":"success","data":{"result":[]}}`,
		},
	})

	status, body := env.Query("tenant", "acme", map[string]any{
		"action": "query_loki",
		"params": map[string]any{"query_name": "errors", "start": 0, "end": 60},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "fixture", body["data"].(map[string]any)["source"])

	status, body = env.Query("tenant", "acme", map[string]any{
		"action": "query_prometheus",
		"params": map[string]any{"query_name": "up", "start": 0, "end": 60},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"ok": false, "error": "fixture_missing", "source": "fixture"}, body["data"])

	assert.Len(t, env.AuditDirs(), 2)
}

func TestScenarioVectorTooLarge(t *testing.T) {
	env := setupTestEnvironment(t, envOptions{
		kind:      dispatch.KindQdrant,
		allowlist: "qdrant: {base_url: 'http://127.0.0.1:1'}\n",
	})

	vector := make([]float64, 5000)
	status, body := env.Query("tenant", "acme", map[string]any{
		"action": "search",
		"params": map[string]any{"vector": vector},
	})

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, map[string]any{"ok": false, "error": "vector_too_large"}, body)
	env.RequireSingleAuditRecord()

	dirs := env.AuditDirs()
	request, err := os.ReadFile(filepath.Join(dirs[0], audit.RequestFile))
	require.NoError(t, err)
	assert.Contains(t, string(request), `"vector": "<redacted>"`)
}

func TestScenarioRepoRedaction(t *testing.T) {
	env := setupTestEnvironment(t, envOptions{
		kind:      dispatch.KindRepo,
		allowlist: "roots: [config]\n",
		files: map[string]string{
			"config/app.env": "AWS_SECRET_ACCESS_KEY=abc\n",
			"config/ok.env":  "LOG_LEVEL=info\n",
		},
	})

	status, body := env.Query("tenant", "acme", map[string]any{
		"action": "read_file",
		"params": map[string]any{"path": "config/app.env"},
	})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "redacted", body["error"])

	status, body = env.Query("tenant", "acme", map[string]any{
		"action": "read_file",
		"params": map[string]any{"path": "../../etc/passwd"},
	})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "path_not_allowed", body["error"])

	status, _ = env.Query("tenant", "acme", map[string]any{
		"action": "git_diff",
		"params": map[string]any{"base": "HEAD; echo", "target": "HEAD"},
	})
	assert.Equal(t, http.StatusBadRequest, status)

	assert.Len(t, env.AuditDirs(), 3)
}

func TestScenarioConcurrentRequestsGetDistinctRecords(t *testing.T) {
	env := evidenceEnv(t)

	const numRequests = 20
	var wg sync.WaitGroup
	for i := 0; i < numRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env.Query("tenant", "acme", map[string]any{"action": "list_evidence", "params": map[string]any{"path": "evidence/acme"}})
		}()
	}
	wg.Wait()

	assert.Len(t, env.AuditDirs(), numRequests)
}
