package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestJSON_SetsContentType(t *testing.T) {
	rec := httptest.NewRecorder()
	OK(rec, map[string]int{"queued": 3})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"queued":3}`, rec.Body.String())
}

func TestErrorCode(t *testing.T) {
	rec := httptest.NewRecorder()
	ErrorCode(rec, http.StatusServiceUnavailable, "bulk_partial", "enqueue failed", map[string]int{"queued": 100})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "bulk_partial", body.Code)
	assert.Equal(t, map[string]any{"queued": float64(100)}, body.Details)
}

func TestInternalError_HidesCause(t *testing.T) {
	rec := httptest.NewRecorder()
	InternalError(rec, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decode(t, rec).Error)
}

func TestServiceUnavailable(t *testing.T) {
	rec := httptest.NewRecorder()
	ServiceUnavailable(rec, "queue store unavailable", errors.New("dial tcp: refused"))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "queue store unavailable", decode(t, rec).Error)
}

func TestDecode(t *testing.T) {
	var dst struct{ Subject string }

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"subject":"hi"}`))
	assert.True(t, Decode(httptest.NewRecorder(), req, &dst))
	assert.Equal(t, "hi", dst.Subject)

	rec := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	assert.False(t, Decode(rec, req, &dst))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecode_RejectsEmptyTrailingAndOversized(t *testing.T) {
	var dst map[string]any

	rec := httptest.NewRecorder()
	assert.False(t, Decode(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("")), &dst))
	assert.Equal(t, "request body is empty", decode(t, rec).Error)

	rec = httptest.NewRecorder()
	assert.False(t, Decode(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{} {}`)), &dst))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	big := `{"x":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	rec = httptest.NewRecorder()
	assert.False(t, Decode(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big)), &dst))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
