package app

import (
	"context"
	"os/signal"
	"syscall"
)

// RunServer is the entrypoint used by `coop serve`.
// It returns an error instead of calling os.Exit to keep defers effective.
func RunServer(cfg Config) error {
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	a, err := New(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.Run(ctx)
}
