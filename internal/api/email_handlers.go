package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/mailqueue/internal/domain"
	"github.com/ignite/mailqueue/internal/pkg/httputil"
	"github.com/ignite/mailqueue/internal/service/email"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// EmailService is the slice of email.Service the handlers use.
type EmailService interface {
	SendBulk(ctx context.Context, req *domain.BulkRequest, chunkSize int) (*email.BulkResult, error)
	QueueEmail(ctx context.Context, payload *domain.EmailPayload, priority int) (string, error)
	GetQueueStats(ctx context.Context) (domain.QueueStats, error)
	ClearQueue(ctx context.Context) (int64, error)
	GetJob(ctx context.Context, id string) (*domain.EmailJob, error)
}

// Handlers serves the /email routes.
type Handlers struct {
	svc     EmailService
	health  *HealthChecker
	metrics http.Handler
}

func NewHandlers(svc EmailService, health *HealthChecker) *Handlers {
	return &Handlers{svc: svc, health: health}
}

// WithMetrics serves a JSON snapshot of reader at /metrics.
func (h *Handlers) WithMetrics(reader sdkmetric.Reader) *Handlers {
	h.metrics = MetricsHandler(reader)
	return h
}

type sendBulkRequest struct {
	domain.BulkRequest
	ChunkSize int `json:"chunk_size,omitempty"`
}

type sendBulkResponse struct {
	Message string `json:"message"`
	Queued  int    `json:"queued"`
}

// SendBulk queues one email per recipient.
//
//	POST /email/send-bulk
func (h *Handlers) SendBulk(w http.ResponseWriter, r *http.Request) {
	var req sendBulkRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	res, err := h.svc.SendBulk(r.Context(), &req.BulkRequest, req.ChunkSize)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.Created(w, sendBulkResponse{Message: "Emails queued successfully", Queued: res.Queued})
}

type sendOneRequest struct {
	domain.EmailPayload
	Priority int `json:"priority,omitempty"`
}

// SendOne queues a single email.
//
//	POST /email/send
func (h *Handlers) SendOne(w http.ResponseWriter, r *http.Request) {
	var req sendOneRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	id, err := h.svc.QueueEmail(r.Context(), &req.EmailPayload, req.Priority)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.Created(w, map[string]string{"message": "Email queued successfully", "id": id})
}

// GetJob returns one job with its state and attempt history.
//
//	GET /email/jobs/{id}
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, job)
}

// QueueStats returns job counts per state.
//
//	GET /email/queue/stats
func (h *Handlers) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.GetQueueStats(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, stats)
}

// ClearQueue removes every job not currently being sent.
//
//	POST /email/queue/clear
func (h *Handlers) ClearQueue(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.ClearQueue(r.Context()); err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.Created(w, map[string]string{"message": "Queue cleared successfully"})
}
