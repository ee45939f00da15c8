package coop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	v1 "github.com/ArimaSeiichi/SillyTavern-Co-op/shared/contracts/coop/v1"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// logBuffer collects JSON log lines written from the session loop.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(b, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// find returns the first record with the given message.
func (b *logBuffer) find(t *testing.T, msg string) map[string]any {
	t.Helper()
	b.mu.Lock()
	lines := bytes.Split(bytes.TrimSpace(b.buf.Bytes()), []byte("\n"))
	b.mu.Unlock()

	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(line, &rec); err != nil {
			t.Fatalf("log line %q: %v", line, err)
		}
		if rec["msg"] == msg {
			return rec
		}
	}
	t.Fatalf("no %q record in logs", msg)
	return nil
}

// ---- transport ----

type fakeLink struct {
	mu      sync.Mutex
	events  LinkEvents
	sent    []v1.Envelope
	closed  bool
	sendErr error
}

func (l *fakeLink) Start(events LinkEvents) {
	l.mu.Lock()
	l.events = events
	l.mu.Unlock()
}

func (l *fakeLink) Send(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	if l.sendErr != nil {
		return l.sendErr
	}
	env, err := v1.Decode(frame)
	if err != nil {
		return err
	}
	l.sent = append(l.sent, env)
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *fakeLink) deliver(t *testing.T, typ string, payload any) {
	t.Helper()
	frame, err := v1.Encode(typ, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", typ, err)
	}
	l.deliverRaw(frame)
}

func (l *fakeLink) deliverRaw(frame []byte) {
	l.mu.Lock()
	events := l.events
	l.mu.Unlock()
	events.OnMessage(frame)
}

func (l *fakeLink) drop(err error) {
	l.mu.Lock()
	events := l.events
	l.mu.Unlock()
	events.OnClose(err)
}

func (l *fakeLink) sentOfType(typ string) []v1.Envelope {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []v1.Envelope
	for _, env := range l.sent {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

type fakeDialer struct {
	mu    sync.Mutex
	err   error
	dials int
	links []*fakeLink
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Link, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	l := &fakeLink{}
	d.links = append(d.links, l)
	return l, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeLink {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.links) == 0 {
		return nil
	}
	return d.links[len(d.links)-1]
}

// ---- clock ----

type manualTimer struct {
	mu      sync.Mutex
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
	last   time.Duration
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{f: f}
	c.timers = append(c.timers, t)
	c.last = d
	return t
}

// armed returns how many timers were ever scheduled.
func (c *manualClock) armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// fire runs every pending timer callback and returns how many ran.
func (c *manualClock) fire() int {
	c.mu.Lock()
	timers := append([]*manualTimer(nil), c.timers...)
	c.mu.Unlock()

	n := 0
	for _, t := range timers {
		t.mu.Lock()
		run := !t.stopped && !t.fired
		t.fired = t.fired || run
		t.mu.Unlock()
		if run {
			t.f()
			n++
		}
	}
	return n
}

// ---- collaborators ----

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	role    string
	err     error
	release chan struct{}
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (ChatMessage, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	release, role, err := g.release, g.role, g.err
	g.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ChatMessage{}, ctx.Err()
		}
	}
	if err != nil {
		return ChatMessage{}, err
	}
	if role == "" {
		role = RoleAssistant
	}
	return ChatMessage{Role: role, Text: "AI: " + prompt}, nil
}

func (g *fakeGenerator) calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

type recordingRenderer struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingRenderer) RenderAssistantMessage(text string) {
	r.mu.Lock()
	r.texts = append(r.texts, text)
	r.mu.Unlock()
}

func (r *recordingRenderer) rendered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

type recordingObserver struct {
	mu       sync.Mutex
	statuses []Status
	roles    []bool
	rosters  int
}

func (o *recordingObserver) StatusChanged(s Status) {
	o.mu.Lock()
	o.statuses = append(o.statuses, s)
	o.mu.Unlock()
}

func (o *recordingObserver) RoleChanged(isHost bool) {
	o.mu.Lock()
	o.roles = append(o.roles, isHost)
	o.mu.Unlock()
}

func (o *recordingObserver) RosterChanged([]Participant) {
	o.mu.Lock()
	o.rosters++
	o.mu.Unlock()
}

func (o *recordingObserver) sawStatus(s Status) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, v := range o.statuses {
		if v == s {
			return true
		}
	}
	return false
}

// ---- harness ----

type harness struct {
	t        *testing.T
	s        *Session
	dialer   *fakeDialer
	clock    *manualClock
	gen      *fakeGenerator
	renderer *recordingRenderer
	observer *recordingObserver
}

// newHarness starts a session on fakes. opts apply after the defaults.
func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		t:        t,
		dialer:   &fakeDialer{},
		clock:    &manualClock{},
		gen:      &fakeGenerator{},
		renderer: &recordingRenderer{},
		observer: &recordingObserver{},
	}
	if cfg.UserID == "" {
		cfg.UserID = "me"
	}
	if cfg.UserName == "" {
		cfg.UserName = "Me"
	}

	s, err := New(cfg, append([]Option{
		WithDialer(h.dialer),
		WithClock(h.clock),
		WithGenerator(h.gen),
		WithRenderer(h.renderer),
		WithObserver(h.observer),
		WithLogger(discardLogger()),
	}, opts...)...)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	h.s = s

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) state() State {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := h.s.Snapshot(ctx)
	if err != nil {
		h.t.Fatalf("snapshot: %v", err)
	}
	return st
}

func (h *harness) waitFor(desc string, ok func(State) bool) State {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		st := h.state()
		if ok(st) {
			return st
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("timed out waiting for %s; state=%+v", desc, st)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *harness) waitStatus(want Status) State {
	h.t.Helper()
	return h.waitFor("status "+want.String(), func(st State) bool { return st.Status == want })
}

// connect dials and returns the fake link once the session reports connected.
func (h *harness) connect() *fakeLink {
	h.t.Helper()
	h.s.Connect()
	h.waitStatus(StatusConnected)
	l := h.dialer.last()
	if l == nil {
		h.t.Fatalf("no link dialed")
	}
	return l
}

// connectAs completes the handshake with the given roster.
func (h *harness) connectAs(isHost bool, users ...v1.User) *fakeLink {
	h.t.Helper()
	l := h.connect()
	l.deliver(h.t, v1.TypeWelcome, v1.WelcomePayload{ID: "me", IsHost: isHost, Users: users})
	h.waitFor("welcome", func(st State) bool { return st.IsHost == isHost && len(st.Members) == len(users) })
	return l
}

var errBoom = errors.New("boom")
