// Package main provides a CI-friendly WebSocket smoke test for the co-op server.
//
// It validates:
//   - handshake + subprotocol selection
//   - join/welcome with host seat assignment
//   - user_joined fanout to the host
//   - request_inputs -> host_input_request to clients only
//   - user_input -> client_input to the host with server-side identity
//   - broadcast_ai_response -> broadcast_message to clients only
//   - not_host rejection for client-sent host commands
//   - user_left on disconnect
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "github.com/ArimaSeiichi/SillyTavern-Co-op/shared/contracts/coop/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name string
	id   string
	conn *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "", "Origin header to send (browser-like WS handshake)")
		session = flag.String("session", "", "Session name (default: unique per run)")
		text    = flag.String("text", "hello co-op", "Input text the client submits")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if *session == "" {
		*session = fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	}
	target, err := sessionURL(*wsURL, *session)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()
	runID := time.Now().UnixNano()

	host := mustConnect(root, "host", target, *origin, *timeout)
	defer closeWS(host.conn)
	hw := mustJoin(root, host, fmt.Sprintf("smoke-host-%d", runID), "Smoke Host", *timeout)
	if !hw.IsHost {
		fatalf("first participant was not given the host seat (is session %q already in use?)", *session)
	}

	client := mustConnect(root, "client", target, *origin, *timeout)
	cw := mustJoin(root, client, fmt.Sprintf("smoke-client-%d", runID), "Smoke Client", *timeout)
	if cw.IsHost {
		fatalf("second participant must be a client")
	}
	if len(cw.Users) != 2 {
		fatalf("client roster size=%d want 2", len(cw.Users))
	}

	var joined v1.User
	mustData(host.mustReadUntilType(root, v1.TypeUserJoined, *timeout), &joined)
	if joined.ID != client.id {
		fatalf("user_joined id mismatch: got=%q want=%q", joined.ID, client.id)
	}

	if *verbose {
		fmt.Printf("joined: host=%s client=%s session=%s\n", host.id, client.id, *session)
	}

	mustWrite(root, host.conn, v1.TypeRequestInputs, v1.EmptyPayload{}, *timeout)
	client.mustReadUntilType(root, v1.TypeHostInputRequest, *timeout)

	mustWrite(root, client.conn, v1.TypeUserInput, v1.UserInputPayload{ID: "spoofed", Name: "spoofed", Text: *text}, *timeout)
	var in v1.UserInputPayload
	mustData(host.mustReadUntilType(root, v1.TypeClientInput, *timeout), &in)
	if in.ID != client.id || in.Text != *text {
		fatalf("client_input mismatch: got=%+v want id=%q text=%q", in, client.id, *text)
	}

	reply := "smoke reply to: " + *text
	mustWrite(root, host.conn, v1.TypeBroadcastAIResponse, v1.TextPayload{Text: reply}, *timeout)
	var bm v1.TextPayload
	mustData(client.mustReadUntilType(root, v1.TypeBroadcastMessage, *timeout), &bm)
	if bm.Text != reply {
		fatalf("broadcast_message mismatch: got=%q want=%q", bm.Text, reply)
	}
	mustAssertNoType(root, host, v1.TypeBroadcastMessage, 750*time.Millisecond)

	mustWrite(root, client.conn, v1.TypeRequestInputs, v1.EmptyPayload{}, *timeout)
	if code := client.mustReadError(root, *timeout); code != "not_host" {
		fatalf("client request_inputs: code=%q want not_host", code)
	}

	closeWS(client.conn)
	var left v1.User
	mustData(host.mustReadUntilType(root, v1.TypeUserLeft, *timeout), &left)
	if left.ID != client.id {
		fatalf("user_left id mismatch: got=%q want=%q", left.ID, client.id)
	}

	fmt.Printf("OK: session=%s host=%s client=%s\n", *session, host.id, client.id)
}

func sessionURL(raw, session string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return "", errors.New("missing path")
	}
	q := u.Query()
	q.Set("session", session)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, v1.Subprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func mustJoin(parent context.Context, c *smokeClient, id, name string, stepTimeout time.Duration) v1.WelcomePayload {
	mustWrite(parent, c.conn, v1.TypeJoin, v1.JoinPayload{ID: id, Name: name}, stepTimeout)

	var w v1.WelcomePayload
	mustData(c.mustReadUntilType(parent, v1.TypeWelcome, stepTimeout), &w)
	if w.ID != id {
		fatalf("welcome id mismatch (%s): got=%q want=%q", c.name, w.ID, id)
	}
	c.id = w.ID
	return w
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			env, err := v1.Decode(data)
			if err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

// mustReadUntilType fails on server errors and skips roster and prompt noise.
func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	env := c.next(parent, wantType, stepTimeout)
	if env.Type == v1.TypeError {
		var ep v1.ErrorPayload
		_ = env.DecodeData(&ep)
		fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
	}
	return env
}

func (c *smokeClient) mustReadError(parent context.Context, stepTimeout time.Duration) string {
	var ep v1.ErrorPayload
	mustData(c.next(parent, v1.TypeError, stepTimeout), &ep)
	return ep.Code
}

func (c *smokeClient) next(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			switch env.Type {
			case wantType, v1.TypeError:
				return env
			case v1.TypeUserJoined, v1.TypeUserLeft, v1.TypeHostInputRequest:
				continue
			default:
				fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
			}
		}
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, typ string, payload any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := v1.Encode(typ, payload)
	if err != nil {
		fatalf("encode %s: %v", typ, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write %s failed: %v", typ, err)
	}
}

func mustData(env v1.Envelope, v any) {
	if err := env.DecodeData(v); err != nil {
		fatalf("decode %s data: %v", env.Type, err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
