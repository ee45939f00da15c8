package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	v1 "github.com/ArimaSeiichi/SillyTavern-Co-op/shared/contracts/coop/v1"

	"github.com/ArimaSeiichi/SillyTavern-Co-op/cmd/internal/realtime"

	"github.com/coder/websocket"
)

func TestRuntimeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "explicit localhost", in: "127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v4", in: "0.0.0.0:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v6", in: "[::]:9090", want: "http://127.0.0.1:9090"},
		{name: "ipv6 host", in: "[2001:db8::1]:9090", want: "http://[2001:db8::1]:9090"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := runtimeBaseURL(tc.in)
			if got != tc.want {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestWSBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
		{in: "https://coop.example.com", want: "wss://coop.example.com"},
		{in: "127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
	}

	for _, tc := range cases {
		got := wsBaseURL(tc.in)
		if got != tc.want {
			t.Fatalf("wsBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestSessionURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		server  string
		session string
		want    string
		wantErr bool
	}{
		{server: "http://127.0.0.1:8080", session: "table", want: "ws://127.0.0.1:8080/ws?session=table"},
		{server: "https://coop.example.com/ws", session: "a b", want: "wss://coop.example.com/ws?session=a+b"},
		{server: "127.0.0.1:8080", session: "", want: "ws://127.0.0.1:8080/ws"},
		{server: "ws://host:1/ws?session=keep", session: "", want: "ws://host:1/ws?session=keep"},
		{server: "ws://host:1/ws?session=old", session: "new", want: "ws://host:1/ws?session=new"},
		{server: "", wantErr: true},
	}

	for _, tc := range cases {
		got, err := SessionURL(tc.server, tc.session)
		if (err != nil) != tc.wantErr {
			t.Fatalf("SessionURL(%q,%q) err=%v", tc.server, tc.session, err)
		}
		if !tc.wantErr && got != tc.want {
			t.Fatalf("SessionURL(%q,%q)=%q want=%q", tc.server, tc.session, got, tc.want)
		}
	}
}

func newTestApp(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()

	a, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	ts := httptest.NewServer(a.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestApp_HTTPEndpoints(t *testing.T) {
	ts := newTestApp(t, Config{MetricsEnabled: true, WS: realtime.DefaultGatewayConfig()})

	if code, body := get(t, ts.URL+"/healthz"); code != http.StatusOK || body != "ok\n" {
		t.Fatalf("healthz=%d %q", code, body)
	}
	if code, _ := get(t, ts.URL+"/readyz"); code != http.StatusOK {
		t.Fatalf("readyz=%d", code)
	}

	// One real participant so the gateway collectors have samples.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	wsURL, err := SessionURL(ts.URL, "metrics")
	if err != nil {
		t.Fatalf("session url: %v", err)
	}
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{Subprotocols: []string{v1.Subprotocol}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	frame, _ := v1.Encode(v1.TypeJoin, v1.JoinPayload{ID: "m1", Name: "Ann"})
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, err := v1.Decode(data)
	if err != nil || env.Type != v1.TypeWelcome {
		t.Fatalf("first frame=%s err=%v", data, err)
	}

	code, body := get(t, ts.URL+"/metrics")
	if code != http.StatusOK {
		t.Fatalf("metrics=%d", code)
	}
	for _, want := range []string{"coop_ws_connections 1", "coop_rooms 1", `coop_ws_envelopes_in_total{type="join"} 1`, "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestApp_MetricsDisabled(t *testing.T) {
	ts := newTestApp(t, Config{WS: realtime.DefaultGatewayConfig()})

	if code, _ := get(t, ts.URL+"/metrics"); code != http.StatusNotFound {
		t.Fatalf("metrics=%d want 404", code)
	}
}
