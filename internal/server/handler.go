// internal/server/handler.go
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	zlog "github.com/rs/zerolog/log"

	"mailpart/internal/metrics"
)

// Handler
// ------------------------------------------------------------
// 수 시간 걸리는 import / export 실행 중 상태를 확인하기 위한 엔드포인트.
//   - /metrics : 카운터 (key=value 줄 단위)
//   - /health  : 살아 있으면 "ok"
type Handler struct {
	metrics *metrics.Metrics
}

func NewHandler(m *metrics.Metrics) *Handler {
	return &Handler{metrics: m}
}

// HandleMetrics 는 현재 카운터 값들을 출력한다.
func (h *Handler) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, h.metrics.String())
}

func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", h.HandleMetrics)
	mux.HandleFunc("/health", h.HandleHealth)
	return mux
}

// Start 는 status 서버를 백그라운드로 띄운다.
// 반환된 stop 은 최대 5초 동안 graceful shutdown 을 시도한다.
func Start(addr string, m *metrics.Metrics) (stop func()) {
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewHandler(m).Routes(),
		ReadTimeout:  8 * time.Second,
		WriteTimeout: 8 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zlog.Info().Str("addr", addr).Msg("status server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Error().Err(err).Msg("status server terminated")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			zlog.Warn().Err(err).Msg("status server shutdown")
		}
	}
}
