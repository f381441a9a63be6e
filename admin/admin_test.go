package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tunnel-reaper/scheduler"
)

type fakeReaper struct {
	deleted   []string
	deleteErr error
	result    scheduler.SweepResult
	sweepErr  error
}

func (f *fakeReaper) DeleteTunnel(_ context.Context, jobID string) error {
	f.deleted = append(f.deleted, jobID)
	return f.deleteErr
}

func (f *fakeReaper) ReconcileAll(context.Context) (scheduler.SweepResult, error) {
	return f.result, f.sweepErr
}

func serve(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	h := NewHandler(Options{Reaper: &fakeReaper{}})
	rec := serve(t, h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "tunnel_reaper_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	h := NewHandler(Options{Reaper: &fakeReaper{}, Gatherer: reg})
	rec := serve(t, h, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tunnel_reaper_test_total 1")
}

func TestDeleteJob(t *testing.T) {
	r := &fakeReaper{}
	h := NewHandler(Options{Reaper: r})

	rec := serve(t, h, http.MethodDelete, "/jobs/ssh-client/dispatch-1700000000-abcd")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"ssh-client/dispatch-1700000000-abcd"}, r.deleted)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "scheduled", body["status"])
}

func TestDeleteJobFailure(t *testing.T) {
	r := &fakeReaper{deleteErr: errors.New("queue closed")}
	h := NewHandler(Options{Reaper: r})

	rec := serve(t, h, http.MethodDelete, "/jobs/j1")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "queue closed")
}

func TestDeleteJobWrongMethod(t *testing.T) {
	h := NewHandler(Options{Reaper: &fakeReaper{}})
	rec := serve(t, h, http.MethodGet, "/jobs/j1")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSweep(t *testing.T) {
	r := &fakeReaper{result: scheduler.SweepResult{
		Running:  []string{"A"},
		Expired:  []string{"B"},
		Orphaned: []string{"C"},
	}}
	h := NewHandler(Options{Reaper: r})

	rec := serve(t, h, http.MethodPost, "/sweep")
	assert.Equal(t, http.StatusOK, rec.Code)

	var got scheduler.SweepResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, r.result.Expired, got.Expired)
	assert.Equal(t, r.result.Orphaned, got.Orphaned)
}

func TestSweepFailure(t *testing.T) {
	h := NewHandler(Options{Reaper: &fakeReaper{sweepErr: errors.New("nomad unreachable")}})

	rec := serve(t, h, http.MethodPost, "/sweep")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "nomad unreachable")
}
