package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ArimaSeiichi/SillyTavern-Co-op/cmd/internal/app"
	"github.com/ArimaSeiichi/SillyTavern-Co-op/cmd/internal/console"
	"github.com/ArimaSeiichi/SillyTavern-Co-op/cmd/internal/coop"
)

var envFileFlag string

func main() {
	rootCmd := &cobra.Command{
		Use:           "coop",
		Short:         "Co-op AI sessions: one host generates, everyone contributes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFileFlag != "" {
				return app.LoadDotEnv(envFileFlag)
			}
			return app.LoadDotEnv()
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFileFlag, "env-file", "", "Load environment from this .env file (default ./.env if present)")

	rootCmd.AddCommand(
		serveCmd(),
		joinCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "[coop]", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// serveCmd
// ---------------------------------------------------------------------------

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordination server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.LoadConfig()
			if addr != "" {
				cfg.HTTPAddr = addr
			}
			return app.RunServer(cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides COOP_HTTP_ADDR)")
	return cmd
}

// ---------------------------------------------------------------------------
// joinCmd
// ---------------------------------------------------------------------------

func joinCmd() *cobra.Command {
	var (
		server      string
		session     string
		name        string
		id          string
		quiescence  time.Duration
		dialTimeout time.Duration
		generateCmd string
		logLevel    string
		logFormat   string
		noConnect   bool
	)

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a co-op session from the terminal",
		Long: "Join a co-op session. The first participant in a session becomes the host and\n" +
			"generates the reply; type /help once connected for the command list.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.LoadParticipantConfig()
			flags := cmd.Flags()
			if flags.Changed("server") {
				cfg.ServerURL = server
			}
			if flags.Changed("session") {
				cfg.Session = session
			}
			if flags.Changed("name") {
				cfg.UserName = name
			}
			if flags.Changed("id") {
				cfg.UserID = id
			}
			if flags.Changed("quiescence") {
				cfg.Quiescence = quiescence
			}
			if flags.Changed("dial-timeout") {
				cfg.DialTimeout = dialTimeout
			}
			if flags.Changed("generate-cmd") {
				cfg.GenerateCmd = generateCmd
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if flags.Changed("log-format") {
				cfg.LogFormat = logFormat
			}
			return runJoin(cfg, !noConnect)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&server, "server", "s", "", "Coordination server (ws://host:port/ws or http://host:port)")
	f.StringVar(&session, "session", "", "Session name to join")
	f.StringVarP(&name, "name", "n", "", "Display name")
	f.StringVar(&id, "id", "", "Participant id (generated when empty)")
	f.DurationVar(&quiescence, "quiescence", 0, "Host auto-send delay after your own input")
	f.DurationVar(&dialTimeout, "dial-timeout", 0, "Give up connecting after this long (0 waits indefinitely)")
	f.StringVar(&generateCmd, "generate-cmd", "", "Shell command fed the combined prompt on stdin (host); echo when empty")
	f.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	f.StringVar(&logFormat, "log-format", "", "auto, pretty or json")
	f.BoolVar(&noConnect, "no-connect", false, "Start disconnected; use /connect")
	return cmd
}

func runJoin(cfg app.ParticipantConfig, connect bool) error {
	log := app.NewLoggerTo(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	url := ""
	if cfg.ServerURL != "" {
		u, err := app.SessionURL(cfg.ServerURL, cfg.Session)
		if err != nil {
			return fmt.Errorf("server url: %w", err)
		}
		url = u
	}

	var gen coop.Generator = console.EchoGenerator{}
	if cfg.GenerateCmd != "" {
		gen = console.ExecGenerator{Command: cfg.GenerateCmd}
	}

	out := console.NewPrinter(os.Stdout)
	s, err := coop.New(
		coop.Config{
			ServerURL:   url,
			UserID:      cfg.UserID,
			UserName:    cfg.UserName,
			Quiescence:  cfg.Quiescence,
			DialTimeout: cfg.DialTimeout,
		},
		coop.WithGenerator(gen),
		coop.WithRenderer(out),
		coop.WithObserver(out),
		coop.WithLogger(log),
	)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	if connect {
		s.Connect()
	}
	err = console.NewREPL(s, out, log).Run(ctx, os.Stdin)
	cancel()
	if runErr := <-done; err == nil {
		err = runErr
	}
	return err
}
