// Package realtime is the co-op coordination point: a websocket gateway that
// assigns the host seat, keeps per-session rosters and relays envelopes between
// the host and its clients.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	v1 "github.com/ArimaSeiichi/SillyTavern-Co-op/shared/contracts/coop/v1"

	"github.com/coder/websocket"
)

const (
	wsCloseGrace      = 1 * time.Second
	wsMaxPingFailures = 3
	wsMaxIDChars      = 128

	// RoomQueryParam selects the co-op session on the /ws URL.
	RoomQueryParam = "session"
)

// WSGateway is the WebSocket entrypoint for co-op sessions.
//
// It enforces origin policy, rate limits and heartbeats, and routes validated
// envelopes between the host and the clients of a room.
type WSGateway struct {
	log     *slog.Logger
	hub     *Hub
	metrics *Metrics
	cfg     GatewayConfig

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string
}

// NewWSGateway constructs a gateway. A nil hub falls back to a fresh in-memory hub.
func NewWSGateway(log *slog.Logger, hub *Hub, metrics *Metrics, cfg GatewayConfig) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if hub == nil {
		hub = NewHub(log, metrics)
	}
	cfg = cfg.withDefaults()

	return &WSGateway{
		log:            log,
		hub:            hub,
		metrics:        metrics,
		cfg:            cfg,
		originPatterns: deriveOriginPatternsFromAllowedOrigins(cfg.AllowedOrigins),
	}
}

// Hub exposes the gateway's room registry (readiness, tests).
func (g *WSGateway) Hub() *Hub { return g.hub }

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a participant link and runs the relay loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Optional: plain websocket clients without a subprotocol are accepted too.
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)

	connID, err := NewConnID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.conn_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	roomID := normalizeRoomID(r.URL.Query().Get(RoomQueryParam))
	client := NewClient(connID, g.cfg.SendQueueSize)

	g.metrics.connOpened()
	defer g.metrics.connClosed()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var (
		closeOnce sync.Once
		joinedMu  sync.Mutex
		joined    *Room
	)
	currentRoom := func() *Room {
		joinedMu.Lock()
		defer joinedMu.Unlock()
		return joined
	}

	// shutdown is idempotent. It does NOT close client.Send.
	// Roster removal happens before client.Close so broadcasters never see a half-closed member.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			joinedMu.Lock()
			room := joined
			joined = nil
			joinedMu.Unlock()

			if room != nil {
				g.leave(room, client)
			}

			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow, map[string]int{
		v1.TypeUserInput: g.cfg.RateInputEvents,
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "conn_id", connID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", connID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	g.log.Info("ws.open", "conn_id", connID, "room_id", roomID, "remote", r.RemoteAddr)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		data, err := readFrame(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "conn_id", connID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		env, decodeErr := v1.Decode(data)

		// Undecodable frames still count against the connection budget.
		now := time.Now().UTC()
		switch rl.Allow(now, env.Type) {
		case rateExceeded:
			g.log.Warn("ws.rate_limited", "conn_id", connID, "counts", rl.Counts(now))
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		case rateDropType:
			g.log.Info("ws.rate_limited.type", "conn_id", connID, "type", env.Type)
			g.trySendError(ctx, client, "rate_limited", "too many "+env.Type+" events")
			continue readLoop
		}

		if decodeErr != nil {
			code := "bad_envelope"
			if errors.Is(decodeErr, v1.ErrUnknownType) {
				code = "unsupported"
			}
			g.trySendError(ctx, client, code, decodeErr.Error())
			continue readLoop
		}
		g.metrics.in(env.Type)

		room := currentRoom()
		if env.Type != v1.TypeJoin && room == nil {
			g.trySendError(ctx, client, "not_joined", "join first")
			continue readLoop
		}

		switch env.Type {
		case v1.TypeJoin:
			if room != nil {
				g.trySendError(ctx, client, "already_joined", "already joined")
				continue readLoop
			}
			joinedRoom, err := g.onJoin(ctx, client, roomID, env)
			if err != nil {
				g.sendReject(ctx, client, err, "join_failed")
				continue readLoop
			}
			joinedMu.Lock()
			joined = joinedRoom
			joinedMu.Unlock()

		case v1.TypeUserInput:
			if err := g.onUserInput(room, client, env); err != nil {
				g.sendReject(ctx, client, err, "input_failed")
			}

		case v1.TypeRequestInputs:
			if err := g.onRequestInputs(room, client); err != nil {
				g.sendReject(ctx, client, err, "request_failed")
			}

		case v1.TypeBroadcastAIResponse:
			if err := g.onBroadcastAIResponse(room, client, env); err != nil {
				g.sendReject(ctx, client, err, "broadcast_failed")
			}

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}

	g.log.Info("ws.close", "conn_id", connID, "room_id", roomID, "participant_id", client.ParticipantID)
}

// ---- handlers ----

// rejectError carries the wire error code for a refused envelope.
type rejectError struct {
	code string
	msg  string
}

func (e *rejectError) Error() string { return e.msg }

func reject(code, msg string) error { return &rejectError{code: code, msg: msg} }

func (g *WSGateway) onJoin(ctx context.Context, client *Client, roomID string, env v1.Envelope) (*Room, error) {
	var p v1.JoinPayload
	if err := env.DecodeData(&p); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}

	id := strings.TrimSpace(p.ID)
	if id == "" {
		assigned, err := NewParticipantID(time.Now().UTC())
		if err != nil {
			return nil, fmt.Errorf("assign id: %w", err)
		}
		id = assigned
	}
	if utf8.RuneCountInString(id) > wsMaxIDChars {
		return nil, reject("invalid_id", fmt.Sprintf("id too long: max=%d chars", wsMaxIDChars))
	}

	client.ParticipantID = id
	client.Name = normalizeName(p.Name)

	room, res, err := g.hub.Join(roomID, client)
	if err != nil {
		client.ParticipantID = ""
		if errors.Is(err, ErrDuplicateParticipant) {
			return nil, reject("duplicate_id", "participant id already in session")
		}
		return nil, err
	}

	welcome, _ := v1.New(v1.TypeWelcome, v1.WelcomePayload{
		ID:     id,
		IsHost: res.IsHost,
		Users:  res.Roster,
	})
	if !g.enqueue(ctx, client, welcome) {
		g.hub.Leave(room, client)
		client.ParticipantID = ""
		return nil, errors.New("backpressure: welcome")
	}

	joinedEnv, _ := v1.New(v1.TypeUserJoined, client.User(res.IsHost))
	room.Broadcast(joinedEnv, id)

	g.log.Info("ws.join", "conn_id", client.ConnID, "room_id", room.ID, "participant_id", id, "is_host", res.IsHost)
	return room, nil
}

func (g *WSGateway) onUserInput(room *Room, client *Client, env v1.Envelope) error {
	var p v1.UserInputPayload
	if err := env.DecodeData(&p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	if room.IsHost(client.ParticipantID) {
		return reject("host_input", "host inputs stay local")
	}

	text := strings.TrimSpace(p.Text)
	if text == "" {
		return reject("empty_text", "empty text")
	}
	if utf8.RuneCountInString(text) > maxInputChars {
		return reject("too_long", fmt.Sprintf("input too long: max=%d chars", maxInputChars))
	}

	// Identity comes from the join, not from the payload.
	fwd, _ := v1.New(v1.TypeClientInput, v1.UserInputPayload{
		ID:   client.ParticipantID,
		Name: client.Name,
		Text: text,
	})
	if !room.SendToHost(fwd) {
		return reject("no_host", "no host available")
	}
	return nil
}

func (g *WSGateway) onRequestInputs(room *Room, client *Client) error {
	if !room.IsHost(client.ParticipantID) {
		return reject("not_host", "host only")
	}
	req, _ := v1.New(v1.TypeHostInputRequest, v1.EmptyPayload{})
	n := room.Broadcast(req, client.ParticipantID)
	g.log.Info("ws.request_inputs", "room_id", room.ID, "delivered", n)
	return nil
}

func (g *WSGateway) onBroadcastAIResponse(room *Room, client *Client, env v1.Envelope) error {
	if !room.IsHost(client.ParticipantID) {
		return reject("not_host", "host only")
	}

	var p v1.TextPayload
	if err := env.DecodeData(&p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if strings.TrimSpace(p.Text) == "" {
		return reject("empty_text", "empty text")
	}
	if utf8.RuneCountInString(p.Text) > maxResponseChars {
		return reject("too_long", fmt.Sprintf("response too long: max=%d chars", maxResponseChars))
	}

	out, _ := v1.New(v1.TypeBroadcastMessage, v1.TextPayload{Text: p.Text})
	n := room.Broadcast(out, client.ParticipantID)
	g.log.Info("ws.broadcast", "room_id", room.ID, "delivered", n)
	return nil
}

func (g *WSGateway) leave(room *Room, client *Client) {
	wasHost, ok := g.hub.Leave(room, client)
	if !ok {
		return
	}
	left, _ := v1.New(v1.TypeUserLeft, v1.User{ID: client.ParticipantID, Name: client.Name})
	room.Broadcast(left, client.ParticipantID)
	if wasHost {
		g.log.Info("room.host.vacant", "room_id", room.ID)
	}
}

func normalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultUserName
	}
	if utf8.RuneCountInString(name) > maxNameChars {
		name = string([]rune(name)[:maxNameChars])
	}
	return name
}

// ---- send helpers ----

func (g *WSGateway) sendReject(ctx context.Context, client *Client, err error, fallbackCode string) {
	var re *rejectError
	if errors.As(err, &re) {
		g.trySendError(ctx, client, re.code, re.msg)
		return
	}
	g.trySendError(ctx, client, fallbackCode, err.Error())
}

func (g *WSGateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	g.metrics.reject(code)
	env, _ := v1.New(v1.TypeError, v1.ErrorPayload{Code: code, Message: msg})
	_ = g.enqueue(ctx, client, env)
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	if !client.offer(env) {
		g.metrics.drop()
		return false
	}
	g.metrics.out(env.Type)
	return true
}

// ---- frame IO ----

func readFrame(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return data, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}
		if origin == a {
			return nil
		}
		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
