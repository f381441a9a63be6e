package main

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tunnel-reaper/config"
)

// env points the process at a fake resolver publishing a fake Nomad agent.
type env struct {
	mu      sync.Mutex
	deleted []string
	jobs    []map[string]string
}

func (e *env) nomad(t *testing.T) *httptest.Server {
	r := mux.NewRouter()
	r.HandleFunc("/v1/job/{id:.+}", func(w http.ResponseWriter, req *http.Request) {
		id := mux.Vars(req)["id"]
		e.mu.Lock()
		e.deleted = append(e.deleted, id)
		e.mu.Unlock()
		if id == "missing" {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"EvalID": "e1"})
	}).Methods(http.MethodDelete)
	r.HandleFunc("/v1/jobs", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(e.jobs)
	}).Methods(http.MethodGet)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func startResolver(t *testing.T, nomadPort string) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		if r.Question[0].Name == "nomad.service.city.consul." {
			srv, _ := dns.NewRR("nomad.service.city.consul. 0 IN SRV 1 1 " + nomadPort + " agent.node.consul.")
			a, _ := dns.NewRR("agent.node.consul. 0 IN A 127.0.0.1")
			m.Answer = []dns.RR{srv}
			m.Extra = []dns.RR{a}
		} else {
			m.SetRcode(r, dns.RcodeNameError)
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	s := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = s.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = s.Shutdown() })
	return pc.LocalAddr().String()
}

func setup(t *testing.T, e *env) {
	t.Helper()
	for _, k := range []string{"SEA_HOST", "NOMAD_TOKEN", "ETCD_ENDPOINTS", "LOG_LEVEL", "REAPER_LISTEN"} {
		t.Setenv(k, "")
	}

	nomad := e.nomad(t)
	_, port, err := net.SplitHostPort(strings.TrimPrefix(nomad.URL, "http://"))
	require.NoError(t, err)

	t.Setenv("APP_ENV", "production")
	t.Setenv("DNS_ADDR", startResolver(t, port))
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reaper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.Execute()
	return out.String(), err
}

func TestResolve(t *testing.T) {
	setup(t, &env{})

	out, err := run(t, "resolve", "nomad", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "127.0.0.1:")
}

func TestResolveUnknownService(t *testing.T) {
	setup(t, &env{})

	_, err := run(t, "resolve", "vault")
	assert.Error(t, err)
}

func TestCleanupThroughDiscoveredAgent(t *testing.T) {
	e := &env{}
	setup(t, e)
	cfg := writeConfig(t, "nomad:\n  use_discovered_port: true\n")

	out, err := run(t, "--config", cfg, "cleanup", "ssh-client/dispatch-1")
	require.NoError(t, err)
	assert.Equal(t, "ssh-client/dispatch-1\n", out)

	_, err = run(t, "--config", cfg, "cleanup", "missing")
	require.NoError(t, err)

	assert.Equal(t, []string{"ssh-client/dispatch-1", "missing"}, e.deleted)
}

func TestSweepDryRun(t *testing.T) {
	e := &env{jobs: []map[string]string{
		{"ID": "ssh-client", "Status": "running"},
		{"ID": "ssh-client/dispatch-1", "ParentID": "ssh-client", "Status": "running"},
		{"ID": "ssh-client/dispatch-2", "ParentID": "ssh-client", "Status": "dead"},
	}}
	setup(t, e)
	cfg := writeConfig(t, "nomad:\n  use_discovered_port: true\n")

	out, err := run(t, "--config", cfg, "sweep", "--dry-run")
	require.NoError(t, err)

	var res sweepOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.DryRun)
	assert.Equal(t, []string{"ssh-client/dispatch-1"}, res.Orphaned)
	assert.Empty(t, e.deleted)
}

func TestForcedSweepKeepsClassJob(t *testing.T) {
	e := &env{jobs: []map[string]string{
		{"ID": "ssh-client", "Status": "running"},
		{"ID": "ssh-client/dispatch-1", "ParentID": "ssh-client", "Status": "running"},
	}}
	setup(t, e)
	cfg := writeConfig(t, "nomad:\n  use_discovered_port: true\n")

	_, err := run(t, "--config", cfg, "sweep", "--force")
	require.NoError(t, err)

	assert.Equal(t, []string{"ssh-client/dispatch-1"}, e.deleted)
	assert.NotContains(t, e.deleted, "ssh-client")
}

func TestServeRefusesMemoryRegistry(t *testing.T) {
	setup(t, &env{})
	t.Setenv("REAPER_LISTEN", "127.0.0.1:0")

	_, err := run(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")
}

func TestSweepRefusesMemoryRegistry(t *testing.T) {
	setup(t, &env{})

	_, err := run(t, "sweep")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")
}

func TestGatewayMiddlewares(t *testing.T) {
	cfg := config.Default().Nomad
	assert.Len(t, gatewayMiddlewares(cfg, nil), 3)

	cfg.Retries = 2
	assert.Len(t, gatewayMiddlewares(cfg, nil), 4)

	cfg.RateLimit = 0
	cfg.Timeout = 0
	assert.Len(t, gatewayMiddlewares(cfg, nil), 2)
}
