package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Router(h *Handler, reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("GET /v1/scheduler/status", h.SchedulerStatus)
	mux.HandleFunc("POST /v1/scheduler/start", h.SchedulerStart)
	mux.HandleFunc("POST /v1/scheduler/stop", h.SchedulerStop)

	mux.HandleFunc("POST /v1/messages", h.EnqueueMessage)
	mux.HandleFunc("POST /v1/batches", h.EnqueueBatch)
	mux.HandleFunc("POST /v1/segments/{segmentID}/batches", h.EnqueueSegmentBatch)
	mux.HandleFunc("POST /v1/accounts/{accountID}/batches", h.EnqueueAccountBatch)

	mux.HandleFunc("GET /v1/batches/{batchID}", h.BatchStatus)
	mux.HandleFunc("POST /v1/batches/{batchID}/cancel", h.CancelBatch)

	mux.HandleFunc("GET /v1/queue/stats", h.QueueStats)

	if reg != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("dispatch"))
	})

	return mux
}
