// Package admin serves the reaper's HTTP surface: health, metrics, the
// explicit tunnel deletion path and on-demand sweeps.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tunnel-reaper/scheduler"
)

// Reaper is the part of the scheduler the handlers drive.
type Reaper interface {
	DeleteTunnel(ctx context.Context, jobID string) error
	ReconcileAll(ctx context.Context) (scheduler.SweepResult, error)
}

type Options struct {
	Reaper       Reaper
	Gatherer     prometheus.Gatherer // default prometheus.DefaultGatherer
	SweepTimeout time.Duration       // default 100s
	Logger       *zap.Logger
}

type handler struct {
	reaper       Reaper
	sweepTimeout time.Duration
	log          *zap.Logger
}

// NewHandler returns the router.
func NewHandler(opts Options) http.Handler {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.SweepTimeout <= 0 {
		opts.SweepTimeout = 100 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	h := &handler{reaper: opts.Reaper, sweepTimeout: opts.SweepTimeout, log: opts.Logger}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	// job IDs of dispatched jobs contain slashes
	r.HandleFunc("/jobs/{jobID:.+}", h.deleteJob).Methods(http.MethodDelete)
	r.HandleFunc("/sweep", h.sweep).Methods(http.MethodPost)
	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *handler) deleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]

	if err := h.reaper.DeleteTunnel(r.Context(), jobID); err != nil {
		h.log.Error("delete tunnel", zap.String("job_id", jobID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"job_id": jobID, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "scheduled"})
}

type sweepResponse struct {
	scheduler.SweepResult
	Error string `json:"error,omitempty"`
}

func (h *handler) sweep(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.sweepTimeout)
	defer cancel()

	res, err := h.reaper.ReconcileAll(ctx)
	if err != nil {
		h.log.Error("sweep", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, sweepResponse{SweepResult: res, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse{SweepResult: res})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
