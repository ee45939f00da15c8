// Package console is the terminal adapter for a co-op participant: it maps stdin
// commands onto a session and prints session events to stdout.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ArimaSeiichi/SillyTavern-Co-op/cmd/internal/coop"
)

// Controller is the part of *coop.Session the REPL drives.
type Controller interface {
	Connect()
	Disconnect()
	RequestInputs()
	SendToAI()
	SubmitInput(text string)
	Snapshot(ctx context.Context) (coop.State, error)
}

const helpText = `commands:
  /connect      join the session
  /disconnect   leave the session
  /request      ask every client for input (host)
  /send         combine pending inputs and generate now (host)
  /status       show status, role and roster
  /quit         exit
  anything else is submitted as your input for the round
`

// REPL reads commands line by line.
type REPL struct {
	ctl Controller
	out *Printer
	log *slog.Logger
}

// NewREPL binds a controller to a printer.
func NewREPL(ctl Controller, out *Printer, log *slog.Logger) *REPL {
	if log == nil {
		log = slog.Default()
	}
	return &REPL{ctl: ctl, out: out, log: log}
}

// Run processes lines from in until /quit, EOF or ctx is done.
func (r *REPL) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			return err
		case line := <-lines:
			if quit := r.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

func (r *REPL) handle(ctx context.Context, line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		r.ctl.SubmitInput(line)
		return false
	}

	cmd, _, _ := strings.Cut(line, " ")
	switch strings.ToLower(cmd) {
	case "/connect":
		r.ctl.Connect()
	case "/disconnect":
		r.ctl.Disconnect()
	case "/request":
		r.ctl.RequestInputs()
	case "/send":
		r.ctl.SendToAI()
	case "/status":
		sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		st, err := r.ctl.Snapshot(sctx)
		cancel()
		if err != nil {
			r.log.Warn("console.status.fail", "err", err)
			return false
		}
		r.out.State(st)
	case "/quit", "/exit":
		return true
	case "/help":
		r.out.Println(helpText)
	default:
		r.out.Println("unknown command " + cmd + " (try /help)")
	}
	return false
}

// Printer writes session events for a human. It implements coop.Renderer and
// coop.Observer and is safe for concurrent use.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPrinter returns a printer on w.
func NewPrinter(w io.Writer) *Printer { return &Printer{w: w} }

// Println writes one line.
func (p *Printer) Println(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, strings.TrimRight(s, "\n"))
}

// RenderAssistantMessage prints a relayed reply prefixed with [ai].
func (p *Printer) RenderAssistantMessage(text string) { p.Println("[ai] " + text) }

// StatusChanged prints the new connection status.
func (p *Printer) StatusChanged(s coop.Status) { p.Println("[status] " + s.String()) }

// RoleChanged prints whether this participant now holds the host seat.
func (p *Printer) RoleChanged(isHost bool) {
	if isHost {
		p.Println("[role] you are the host")
		return
	}
	p.Println("[role] you are a client")
}

// RosterChanged prints the roster on one line.
func (p *Printer) RosterChanged(ps []coop.Participant) {
	p.Println("[roster] " + formatRoster(ps))
}

// State prints a snapshot.
func (p *Printer) State(st coop.State) {
	role := "client"
	if st.IsHost {
		role = "host"
	}
	p.Println(fmt.Sprintf("[status] %s as %s (%s), round %d, %d pending", st.Status, st.SelfID, role, st.Round, st.Pending))
	p.Println("[roster] " + formatRoster(st.Members))
}

func formatRoster(ps []coop.Participant) string {
	if len(ps) == 0 {
		return "(empty)"
	}
	names := make([]string, 0, len(ps))
	for _, m := range ps {
		n := m.DisplayName
		if n == "" {
			n = m.ID
		}
		if m.IsHost {
			n += " (host)"
		}
		names = append(names, n)
	}
	return strings.Join(names, ", ")
}
