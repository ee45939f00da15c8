package app

import (
	"net/http"

	"github.com/ArimaSeiichi/SillyTavern-Co-op/cmd/internal/realtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	ws *realtime.WSGateway,
	gatherer prometheus.Gatherer,
	ready func() bool,
) {
	mux.Handle("/healthz", WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})))

	mux.Handle("/readyz", WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil && !ready() {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})))

	if cfg.MetricsEnabled && gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{ErrorLog: slogErrorLog{log}}))
	}

	mux.Handle("/ws", ws)
}

// slogErrorLog adapts slog to promhttp's error logger.
type slogErrorLog struct{ log Logger }

func (l slogErrorLog) Println(v ...any) {
	l.log.Error("metrics.handler.fail", "err", v)
}
