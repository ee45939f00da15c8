package coop

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	v1 "github.com/ArimaSeiichi/SillyTavern-Co-op/shared/contracts/coop/v1"

	"github.com/coder/websocket"
)

const (
	wsDefaultSendQueue    = 64
	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadLimit    = 1 << 20 // 1 MiB
)

// WSDialer opens websocket links.
type WSDialer struct {
	// Header is sent with the upgrade request (e.g. Origin).
	Header       http.Header
	WriteTimeout time.Duration
	SendQueue    int
	ReadLimit    int64
}

// Dial connects to url. The returned link is idle until Start.
func (d *WSDialer) Dial(ctx context.Context, url string) (Link, error) {
	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   d.Header,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	readLimit := d.ReadLimit
	if readLimit <= 0 {
		readLimit = wsDefaultReadLimit
	}
	conn.SetReadLimit(readLimit)

	queue := d.SendQueue
	if queue <= 0 {
		queue = wsDefaultSendQueue
	}
	writeTimeout := d.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = wsDefaultWriteTimeout
	}

	lctx, cancel := context.WithCancel(context.Background())
	return &wsLink{
		conn:         conn,
		ctx:          lctx,
		cancel:       cancel,
		send:         make(chan []byte, queue),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}, nil
}

// wsLink pumps frames between a websocket and LinkEvents.
//
// Design notes:
// - send is never closed; done gates producers instead.
// - OnClose fires at most once and only for remote or transport failures.
type wsLink struct {
	conn         *websocket.Conn
	ctx          context.Context
	cancel       context.CancelFunc
	send         chan []byte
	done         chan struct{}
	writeTimeout time.Duration

	startOnce sync.Once
	closeOnce sync.Once

	mu     sync.Mutex
	events LinkEvents
}

func (l *wsLink) Start(events LinkEvents) {
	l.startOnce.Do(func() {
		l.mu.Lock()
		l.events = events
		l.mu.Unlock()

		go l.readLoop()
		go l.writeLoop()
	})
}

func (l *wsLink) Send(frame []byte) error {
	select {
	case <-l.done:
		return ErrLinkClosed
	default:
	}
	select {
	case l.send <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (l *wsLink) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		// Close waits for the peer's close frame; keep it off the caller's goroutine.
		go func() {
			_ = l.conn.Close(websocket.StatusNormalClosure, "bye")
			l.cancel()
		}()
	})
	return nil
}

// fail tears the link down after a remote close or transport error.
func (l *wsLink) fail(err error) {
	l.closeOnce.Do(func() {
		close(l.done)
		l.cancel()
		_ = l.conn.CloseNow()

		l.mu.Lock()
		events := l.events
		l.mu.Unlock()
		if events != nil {
			events.OnClose(err)
		}
	})
}

func (l *wsLink) readLoop() {
	for {
		_, data, err := l.conn.Read(l.ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				err = nil
			}
			if errors.Is(err, context.Canceled) {
				return
			}
			l.fail(err)
			return
		}

		l.mu.Lock()
		events := l.events
		l.mu.Unlock()
		events.OnMessage(data)
	}
}

func (l *wsLink) writeLoop() {
	for {
		select {
		case <-l.done:
			return
		case frame := <-l.send:
			ctx, cancel := context.WithTimeout(l.ctx, l.writeTimeout)
			err := l.conn.Write(ctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				l.fail(fmt.Errorf("write: %w", err))
				return
			}
		}
	}
}
