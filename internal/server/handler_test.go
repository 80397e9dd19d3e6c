package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"mailpart/internal/metrics"
)

func TestHandler(t *testing.T) {
	m := metrics.New()
	m.ItemsWrittenTotal = 42
	m.RotationsTotal = 3
	h := NewHandler(m).Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "items_written_total=42\n")
	assert.Contains(t, rec.Body.String(), "rotations_total=3\n")
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/collect", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
