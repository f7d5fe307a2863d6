package api

import (
	"errors"
	"net/http"

	"github.com/ignite/mailqueue/internal/pkg/httputil"
	"github.com/ignite/mailqueue/internal/queue"
	"github.com/ignite/mailqueue/internal/service/email"
)

// respondServiceError maps service errors to HTTP responses. Validation
// messages are returned as-is; store and transport internals never are.
func respondServiceError(w http.ResponseWriter, err error) {
	var bulkErr *email.BulkError
	switch {
	case errors.Is(err, email.ErrValidation), errors.Is(err, queue.ErrInvalidJob):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, queue.ErrJobNotFound):
		httputil.NotFound(w, "job not found")
	case errors.As(err, &bulkErr):
		httputil.ErrorCode(w, http.StatusServiceUnavailable, "bulk_partial",
			"bulk enqueue stopped, earlier chunks remain queued",
			map[string]int{"queued": bulkErr.Queued, "failed_chunk": bulkErr.Chunk})
	case errors.Is(err, email.ErrBackpressure):
		w.Header().Set("Retry-After", "30")
		httputil.ServiceUnavailable(w, email.ErrBackpressure.Error(), nil)
	case errors.Is(err, queue.ErrStoreUnavailable):
		httputil.ServiceUnavailable(w, "queue store unavailable", err)
	default:
		httputil.InternalError(w, err)
	}
}
