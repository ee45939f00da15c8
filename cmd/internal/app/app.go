// Package app wires the co-op runtimes: config, logging, HTTP routes and the
// coordination server built on the realtime gateway.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ArimaSeiichi/SillyTavern-Co-op/cmd/internal/realtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App is the coordination server runtime: it owns HTTP server wiring and the gateway.
type App struct {
	cfg Config
	log Logger

	registry *prometheus.Registry
	ws       *realtime.WSGateway
	handler  http.Handler

	draining atomic.Bool
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}
	metrics, err := realtime.NewMetrics(reg)
	if err != nil {
		return nil, err
	}

	ws := realtime.NewWSGateway(log, realtime.NewHub(log, metrics), metrics, cfg.WS)

	a := &App{
		cfg:      cfg,
		log:      log,
		registry: reg,
		ws:       ws,
	}

	mux := http.NewServeMux()
	registerHTTP(mux, log, cfg, ws, reg, func() bool { return !a.draining.Load() })
	a.handler = WithRequestLogging(mux, log)
	return a, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"ws_url", wsBaseURL(base)+"/ws?"+realtime.RoomQueryParam+"=<name>",
		"metrics", a.cfg.MetricsEnabled,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	a.draining.Store(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown does not wait for hijacked websocket connections; their handlers exit
	// once the peer goes away or the heartbeat fails.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped", "rooms", a.ws.Hub().Len())
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + strings.TrimSpace(addr)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// wsBaseURL maps an http(s) base URL to ws(s).
func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "ws://"), strings.HasPrefix(base, "wss://"):
		return base
	default:
		return "ws://" + base
	}
}

// SessionURL builds the participant URL for server (an http(s) or ws(s) address,
// with or without the /ws path) and a session name. An empty session keeps any
// session already present on the URL.
func SessionURL(server, session string) (string, error) {
	server = strings.TrimSpace(server)
	if server == "" {
		return "", errors.New("server url is empty")
	}
	if !strings.Contains(server, "://") {
		server = "ws://" + server
	}
	u, err := url.Parse(wsBaseURL(server))
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", errors.New("server url has no host")
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	if s := strings.TrimSpace(session); s != "" {
		q := u.Query()
		q.Set(realtime.RoomQueryParam, s)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
