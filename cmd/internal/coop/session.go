// Package coop is the participant side of a co-op AI session: the status machine,
// membership view, host-side input aggregation and the broadcast relay.
//
// A Session is single-threaded: every transport callback, timer and UI request is
// queued and applied one at a time by Run. Collaborators (transport, generation,
// rendering, UI observer, logging) are explicit interfaces supplied at construction.
package coop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ArimaSeiichi/SillyTavern-Co-op/cmd/internal/ids"
	v1 "github.com/ArimaSeiichi/SillyTavern-Co-op/shared/contracts/coop/v1"
)

const (
	// DefaultQuiescence is how long the host waits after its own submission
	// before combining on its own.
	DefaultQuiescence = 5 * time.Second

	defaultUserName = "User"
	eventQueueSize  = 256
)

// Config is the opaque startup configuration.
type Config struct {
	ServerURL string
	UserID    string
	UserName  string

	// Quiescence is the auto-combine delay after the host's own submission.
	Quiescence time.Duration
	// DialTimeout bounds connecting; zero waits indefinitely.
	DialTimeout time.Duration
}

// Option configures a Session.
type Option func(*Session)

// WithDialer sets the transport.
func WithDialer(d Dialer) Option { return func(s *Session) { s.dialer = d } }

// WithGenerator sets the host's generation collaborator.
func WithGenerator(g Generator) Option { return func(s *Session) { s.gen = g } }

// WithRenderer sets the chat render collaborator.
func WithRenderer(r Renderer) Option { return func(s *Session) { s.render = r } }

// WithObserver sets the UI observer.
func WithObserver(o Observer) Option { return func(s *Session) { s.observer = o } }

// WithClock sets the clock used by the quiescence timer.
func WithClock(c Clock) Option { return func(s *Session) { s.clock = c } }

// WithLogger sets the log collaborator.
func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.log = l } }

// State is a point-in-time view of a session for UI layers.
type State struct {
	Status  Status
	SelfID  string
	IsHost  bool
	Members []Participant
	Pending int
	Round   uint64
}

// Session is one participant's view of a shared co-op session.
type Session struct {
	cfg      Config
	log      *slog.Logger
	dialer   Dialer
	gen      Generator
	render   Renderer
	observer Observer
	clock    Clock

	events  chan func()
	stopped chan struct{}

	// Everything below is owned by the loop.
	runCtx  context.Context
	status  Status
	selfID  string
	isHost  bool
	link    Link
	linkSeq uint64
	members *Registry
	pending *Aggregator

	round      uint64
	timer      Timer
	generating bool
	// combineDue is set when the quiescence timer fired during a generation.
	combineDue bool
}

// New constructs a disconnected Session.
func New(cfg Config, opts ...Option) (*Session, error) {
	cfg.ServerURL = strings.TrimSpace(cfg.ServerURL)
	cfg.UserName = strings.TrimSpace(cfg.UserName)
	if cfg.UserName == "" {
		cfg.UserName = defaultUserName
	}
	if cfg.Quiescence <= 0 {
		cfg.Quiescence = DefaultQuiescence
	}
	cfg.UserID = strings.TrimSpace(cfg.UserID)
	if cfg.UserID == "" {
		id, err := ids.NewParticipantID(time.Now().UTC())
		if err != nil {
			return nil, fmt.Errorf("coop: participant id: %w", err)
		}
		cfg.UserID = id
	}

	s := &Session{
		cfg:      cfg,
		log:      slog.Default(),
		dialer:   &WSDialer{},
		render:   nopRenderer{},
		observer: NopObserver{},
		clock:    wallClock{},
		events:   make(chan func(), eventQueueSize),
		stopped:  make(chan struct{}),
		runCtx:   context.Background(),
		status:   StatusDisconnected,
		selfID:   cfg.UserID,
		members:  NewRegistry(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.render == nil {
		s.render = nopRenderer{}
	}
	if s.observer == nil {
		s.observer = NopObserver{}
	}
	if s.clock == nil {
		s.clock = wallClock{}
	}
	if s.dialer == nil {
		s.dialer = &WSDialer{}
	}
	return s, nil
}

// Run processes queued events until ctx is done. It must be called once.
func (s *Session) Run(ctx context.Context) error {
	s.runCtx = ctx
	defer close(s.stopped)

	for {
		select {
		case <-ctx.Done():
			if s.status != StatusDisconnected {
				s.teardown("shutdown", nil)
			}
			return nil
		case fn := <-s.events:
			fn()
		}
	}
}

// ---- trigger points ----

// Connect opens the link to the configured server.
func (s *Session) Connect() { s.enqueue(s.connect) }

// Disconnect closes the link.
func (s *Session) Disconnect() { s.enqueue(s.disconnect) }

// RequestInputs asks every client to submit (host only).
func (s *Session) RequestInputs() { s.enqueue(s.requestInputs) }

// SendToAI combines the pending inputs now (host only).
func (s *Session) SendToAI() { s.enqueue(s.sendToAI) }

// SubmitInput submits this participant's input for the round.
func (s *Session) SubmitInput(text string) {
	s.enqueue(func() { s.submitInput(text) })
}

// Snapshot returns the current state as seen by the loop.
func (s *Session) Snapshot(ctx context.Context) (State, error) {
	ch := make(chan State, 1)
	select {
	case s.events <- func() { ch <- s.state() }:
	case <-s.stopped:
		return State{}, errors.New("coop: session stopped")
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
	select {
	case st := <-ch:
		return st, nil
	case <-s.stopped:
		return State{}, errors.New("coop: session stopped")
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

func (s *Session) enqueue(fn func()) {
	select {
	case s.events <- fn:
	case <-s.stopped:
	}
}

func (s *Session) state() State {
	st := State{
		Status:  s.status,
		SelfID:  s.selfID,
		IsHost:  s.isHost,
		Members: s.members.List(),
		Round:   s.round,
	}
	if s.pending != nil {
		st.Pending = s.pending.Len()
	}
	return st
}

// ---- connection lifecycle ----

func (s *Session) connect() {
	if s.status != StatusDisconnected {
		s.log.Debug("session.connect.ignored", "status", s.status.String())
		return
	}
	if s.cfg.ServerURL == "" {
		s.log.Error("session.connect.not_configured", "err", ErrNotConfigured)
		s.setStatus(StatusDisconnected)
		return
	}

	s.setStatus(StatusConnecting)
	s.linkSeq++
	seq := s.linkSeq
	ctx := s.runCtx
	url := s.cfg.ServerURL
	timeout := s.cfg.DialTimeout

	go func() {
		dctx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			dctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		link, err := s.dialer.Dial(dctx, url)
		s.enqueue(func() { s.onDialed(seq, link, err) })
	}()
}

func (s *Session) onDialed(seq uint64, link Link, err error) {
	if seq != s.linkSeq || s.status != StatusConnecting {
		if link != nil {
			_ = link.Close()
		}
		return
	}
	if err != nil {
		s.log.Error("session.connect.fail", "url", s.cfg.ServerURL, "err", err)
		s.teardown("connect failed", err)
		return
	}

	s.link = link
	link.Start(linkEvents{s: s, seq: seq})
	s.setStatus(StatusConnected)

	// Handshake: lets the server assign our role.
	if err := s.send(v1.TypeJoin, v1.JoinPayload{ID: s.selfID, Name: s.cfg.UserName}); err != nil {
		return
	}
	s.log.Info("session.connected", "url", s.cfg.ServerURL, "id", s.selfID, "name", s.cfg.UserName)
}

func (s *Session) disconnect() {
	if s.status == StatusDisconnected {
		return
	}
	s.teardown("disconnect requested", nil)
}

func (s *Session) onLinkClosed(seq uint64, err error) {
	if seq != s.linkSeq || s.link == nil {
		return
	}
	if err != nil {
		s.log.Error("session.link.error", "err", err)
	}
	s.teardown("connection closed", err)
}

// teardown moves to disconnected and drops everything tied to the link.
// Later events from the old link are ignored through linkSeq.
func (s *Session) teardown(reason string, cause error) {
	s.stopTimer()
	if s.link != nil {
		_ = s.link.Close()
		s.link = nil
	}
	s.linkSeq++
	s.generating = false
	s.combineDue = false
	s.pending = nil
	s.members.Clear()

	wasHost := s.isHost
	s.isHost = false
	if wasHost {
		s.observer.RoleChanged(false)
	}
	s.observer.RosterChanged(nil)

	if cause != nil {
		s.log.Info("session.disconnected", "reason", reason, "err", cause)
	} else {
		s.log.Info("session.disconnected", "reason", reason)
	}
	s.setStatus(StatusDisconnected)
}

func (s *Session) setStatus(st Status) {
	prev := s.status
	s.status = st
	if prev != st {
		s.log.Debug("session.status", "from", prev.String(), "to", st.String())
	}
	s.observer.StatusChanged(st)
}

// send encodes and queues one envelope. A failing link is a connection error.
func (s *Session) send(typ string, payload any) error {
	if s.link == nil {
		s.log.Warn("session.send.no_link", "type", typ, "err", ErrNotConnected)
		return ErrNotConnected
	}
	frame, err := v1.Encode(typ, payload)
	if err != nil {
		s.log.Error("session.send.encode", "type", typ, "err", err)
		return err
	}
	if err := s.link.Send(frame); err != nil {
		s.log.Error("session.send.fail", "type", typ, "err", err)
		s.teardown("send failed", err)
		return err
	}
	return nil
}

// ---- inbound protocol ----

func (s *Session) onFrame(seq uint64, frame []byte) {
	if seq != s.linkSeq || s.link == nil {
		return
	}

	env, err := v1.Decode(frame)
	if err != nil {
		s.log.Debug("session.protocol.ignored", "err", err)
		return
	}

	switch env.Type {
	case v1.TypeWelcome:
		var p v1.WelcomePayload
		if s.decode(env, &p) {
			s.onWelcome(p)
		}

	case v1.TypeUserJoined:
		var p v1.User
		if s.decode(env, &p) && p.ID != "" {
			if s.members.AddOrIgnore(Participant{ID: p.ID, DisplayName: p.Name, IsHost: p.IsHost}) {
				s.log.Info("session.member.joined", "id", p.ID, "name", p.Name)
				s.observer.RosterChanged(s.members.List())
			}
		}

	case v1.TypeUserLeft:
		var p v1.User
		if s.decode(env, &p) && s.members.Remove(p.ID) {
			if s.pending != nil {
				s.pending.Drop(p.ID)
			}
			s.log.Info("session.member.left", "id", p.ID, "name", p.Name)
			s.observer.RosterChanged(s.members.List())
		}

	case v1.TypeHostInputRequest:
		if s.status == StatusConnected {
			s.setStatus(StatusWaiting)
		}

	case v1.TypeClientInput:
		var p v1.UserInputPayload
		if s.decode(env, &p) {
			s.onClientInput(p)
		}

	case v1.TypeBroadcastMessage:
		var p v1.TextPayload
		if s.decode(env, &p) {
			if !s.isHost {
				s.render.RenderAssistantMessage(p.Text)
			}
			s.setStatus(StatusConnected)
		}

	case v1.TypeError:
		var p v1.ErrorPayload
		if s.decode(env, &p) {
			s.log.Warn("session.server.error", "code", p.Code, "message", p.Message)
		}

	default:
		s.log.Debug("session.protocol.unexpected", "type", env.Type)
	}
}

func (s *Session) decode(env v1.Envelope, v any) bool {
	if err := env.DecodeData(v); err != nil {
		s.log.Debug("session.protocol.ignored", "type", env.Type, "err", err)
		return false
	}
	return true
}

func (s *Session) onWelcome(p v1.WelcomePayload) {
	if id := strings.TrimSpace(p.ID); id != "" {
		s.selfID = id
	}

	roster := make([]Participant, 0, len(p.Users))
	for _, u := range p.Users {
		isHost := u.IsHost
		if u.ID == s.selfID {
			isHost = p.IsHost
		}
		roster = append(roster, Participant{ID: u.ID, DisplayName: u.Name, IsHost: isHost})
	}
	s.members.Replace(roster)

	wasHost := s.isHost
	s.isHost = p.IsHost
	if s.isHost {
		if s.pending == nil {
			s.pending = NewAggregator()
		}
	} else {
		s.stopTimer()
		s.pending = nil
	}

	role := "client"
	if s.isHost {
		role = "host"
	}
	s.log.Info("session.welcome", "id", s.selfID, "role", role, "members", s.members.Len())

	if wasHost != s.isHost {
		s.observer.RoleChanged(s.isHost)
	}
	s.observer.RosterChanged(s.members.List())
}

func (s *Session) onClientInput(p v1.UserInputPayload) {
	if !s.isHost || s.pending == nil {
		return
	}
	if !s.members.Contains(p.ID) {
		s.log.Debug("session.input.unknown_member", "id", p.ID)
		return
	}
	s.pending.Submit(p.ID, p.Text)
	s.log.Info("session.input.received", "id", p.ID, "name", p.Name, "pending", s.pending.Len())
}

// ---- local requests ----

func (s *Session) submitInput(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if s.link == nil || !s.status.linked() {
		s.log.Warn("session.submit.not_connected", "err", ErrNotConnected)
		return
	}

	if s.isHost {
		s.pending.Submit(s.selfID, text)
		s.log.Info("session.submit.local", "pending", s.pending.Len(), "note", "waiting for others")
		if s.timer == nil {
			s.armTimer()
		}
		return
	}

	if err := s.send(v1.TypeUserInput, v1.UserInputPayload{ID: s.selfID, Name: s.cfg.UserName, Text: text}); err == nil {
		s.log.Info("session.submit.sent", "note", "input sent to host")
	}
}

func (s *Session) requestInputs() {
	if !s.isHost {
		return
	}
	if err := s.send(v1.TypeRequestInputs, v1.EmptyPayload{}); err == nil {
		s.log.Info("session.request_inputs")
	}
}

func (s *Session) sendToAI() {
	if !s.isHost {
		return
	}
	s.combineAndGenerate("manual")
}

// ---- aggregation ----

func (s *Session) armTimer() {
	round := s.round
	s.timer = s.clock.AfterFunc(s.cfg.Quiescence, func() {
		s.enqueue(func() { s.onQuiescence(round) })
	})
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) onQuiescence(round uint64) {
	if s.timer == nil || round != s.round {
		return
	}
	s.timer = nil
	s.combineAndGenerate("timer")
}

// combine drains the pending set into one prompt and enters generating.
// An empty set is a no-op.
func (s *Session) combine() (string, bool) {
	if !s.isHost || s.pending == nil {
		return "", false
	}
	prompt, ok := s.pending.Combine()
	if !ok {
		return "", false
	}
	s.round++
	s.setStatus(StatusGenerating)
	return prompt, true
}

func (s *Session) combineAndGenerate(trigger string) {
	if s.generating {
		if trigger == "timer" {
			s.combineDue = true
		}
		s.log.Info("session.combine.busy", "trigger", trigger)
		return
	}
	s.stopTimer()
	s.combineDue = false

	prompt, ok := s.combine()
	if !ok {
		s.log.Debug("session.combine.empty", "trigger", trigger)
		return
	}
	s.generating = true
	round := s.round
	s.log.Info("session.combine", "trigger", trigger, "round", round, "chars", len(prompt))

	if s.gen == nil {
		s.onGenerated(round, ChatMessage{}, errors.New("coop: no generator configured"))
		return
	}

	ctx := s.runCtx
	gen := s.gen
	go func() {
		msg, err := gen.Generate(ctx, prompt)
		s.enqueue(func() { s.onGenerated(round, msg, err) })
	}()
}

func (s *Session) onGenerated(round uint64, msg ChatMessage, err error) {
	if !s.generating || round != s.round {
		return
	}
	s.generating = false

	switch {
	case err != nil:
		s.log.Error("session.generate.fail", "round", round, "err", err)
		s.setStatus(StatusConnected)
	case msg.Role != RoleAssistant:
		s.log.Warn("session.generate.not_assistant", "round", round, "role", msg.Role)
		s.setStatus(StatusConnected)
	default:
		_ = s.broadcastResult(msg.Text)
	}
	s.resumeDueCombine()
}

// resumeDueCombine runs the combine a timer asked for while the previous
// round was generating.
func (s *Session) resumeDueCombine() {
	if !s.combineDue {
		return
	}
	s.combineDue = false
	if s.link == nil || s.pending == nil || s.pending.Len() == 0 {
		return
	}
	s.combineAndGenerate("timer")
}

// broadcastResult relays a generated result to every client through the server.
func (s *Session) broadcastResult(text string) error {
	if !s.isHost {
		return nil
	}
	if s.link == nil {
		s.log.Warn("session.relay.no_link", "err", ErrNotConnected)
		return ErrNotConnected
	}
	if err := s.send(v1.TypeBroadcastAIResponse, v1.TextPayload{Text: text}); err != nil {
		return err
	}
	s.setStatus(StatusConnected)
	return nil
}

// linkEvents routes transport callbacks for one link generation onto the loop.
type linkEvents struct {
	s   *Session
	seq uint64
}

func (e linkEvents) OnMessage(frame []byte) {
	e.s.enqueue(func() { e.s.onFrame(e.seq, frame) })
}

func (e linkEvents) OnClose(err error) {
	e.s.enqueue(func() { e.s.onLinkClosed(e.seq, err) })
}
