package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/bulkwave/dispatch/internal/model"
	"github.com/bulkwave/dispatch/internal/queue"
	"github.com/bulkwave/dispatch/internal/repo"
	"github.com/bulkwave/dispatch/internal/scheduler"
)

// QueueService is the slice of the queue service the HTTP layer needs.
type QueueService interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (*model.QueueItem, error)
	EnqueueBulk(ctx context.Context, req queue.BulkRequest) (string, error)
	EnqueueSegment(ctx context.Context, segmentID int64, req queue.BulkRequest) (string, error)
	EnqueueAllContacts(ctx context.Context, accountID int64, req queue.BulkRequest) (string, error)
	BatchStatus(ctx context.Context, batchID string) (model.BatchStatus, error)
	CancelBatch(ctx context.Context, batchID, reason string) (int, error)
	Stats(ctx context.Context) (map[model.Status]int, error)
}

type Handler struct {
	sched *scheduler.Scheduler
	svc   QueueService
}

func NewHandler(s *scheduler.Scheduler, svc QueueService) *Handler {
	return &Handler{sched: s, svc: svc}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

type enqueueBody struct {
	Recipient     string   `json:"recipient"`
	Recipients    []string `json:"recipients"`
	Payload       string   `json:"payload"`
	AccountID     *int64   `json:"accountId"`
	Priority      string   `json:"priority"`
	SenderName    string   `json:"senderName"`
	SenderAddress string   `json:"senderAddress"`
}

func (b enqueueBody) sender() model.SenderIdentity {
	return model.SenderIdentity{Name: b.SenderName, Address: b.SenderAddress}
}

func (h *Handler) EnqueueMessage(w http.ResponseWriter, r *http.Request) {
	var body enqueueBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	prio, err := parsePriority(body.Priority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, err := h.svc.Enqueue(r.Context(), queue.EnqueueRequest{
		Recipient: body.Recipient,
		Payload:   body.Payload,
		AccountID: body.AccountID,
		Sender:    body.sender(),
		Priority:  prio,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":     item.ID,
		"status": string(item.Status),
	})
}

func (h *Handler) EnqueueBatch(w http.ResponseWriter, r *http.Request) {
	var body enqueueBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	prio, err := parsePriority(body.Priority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	batchID, err := h.svc.EnqueueBulk(r.Context(), queue.BulkRequest{
		Recipients: body.Recipients,
		Payload:    body.Payload,
		AccountID:  body.AccountID,
		Sender:     body.sender(),
		Priority:   prio,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"batchId": batchID})
}

func (h *Handler) EnqueueSegmentBatch(w http.ResponseWriter, r *http.Request) {
	segmentID, ok := pathID(w, r, "segmentID")
	if !ok {
		return
	}

	var body enqueueBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	prio, err := parsePriority(body.Priority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	batchID, err := h.svc.EnqueueSegment(r.Context(), segmentID, queue.BulkRequest{
		Payload:   body.Payload,
		AccountID: body.AccountID,
		Sender:    body.sender(),
		Priority:  prio,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"batchId": batchID})
}

func (h *Handler) EnqueueAccountBatch(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathID(w, r, "accountID")
	if !ok {
		return
	}

	var body enqueueBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	prio, err := parsePriority(body.Priority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	batchID, err := h.svc.EnqueueAllContacts(r.Context(), accountID, queue.BulkRequest{
		Payload:  body.Payload,
		Sender:   body.sender(),
		Priority: prio,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"batchId": batchID})
}

func (h *Handler) BatchStatus(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("batchID")

	st, err := h.svc.BatchStatus(r.Context(), batchID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	state := st.Overall()
	if state == model.BatchNotFound {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"batchId": st.BatchID,
		"state":   string(state),
		"counts": map[string]int{
			"total":      st.Total,
			"pending":    st.Pending,
			"processing": st.Processing,
			"sent":       st.Sent,
			"failed":     st.Failed,
			"cancelled":  st.Cancelled,
		},
	})
}

type cancelBody struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("batchID")

	var body cancelBody
	if r.Body != nil {
		// Body is optional; a missing reason falls back to the default.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	n, err := h.svc.CancelBatch(r.Context(), batchID, body.Reason)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"cancelled": n})
}

func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make(map[string]int, len(stats))
	for status, n := range stats {
		out[string(status)] = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"statuses": out})
}

func writeServiceError(w http.ResponseWriter, err error) {
	var verr *queue.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, repo.ErrAccountNotFound), errors.Is(err, repo.ErrSegmentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, repo.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, queue.ErrSendLimitExceeded):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func parsePriority(raw string) (model.Priority, error) {
	switch raw {
	case "", "normal":
		return model.PriorityNormal, nil
	case "low":
		return model.PriorityLow, nil
	case "high":
		return model.PriorityHigh, nil
	default:
		return 0, fmt.Errorf("invalid priority: %q", raw)
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s: %q", name, raw))
		return 0, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
