// Package events provides the client side of the clinic's push-event
// channel: a websocket connection that delivers named JSON events to
// registered handlers, reconnecting with capped backoff when the backend
// drops.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Event is one named push event from the backend.
type Event struct {
	Name      string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// Handler consumes one event. Handlers run sequentially on the listener's
// dispatch goroutine: a slow handler delays later events but never stalls
// the connection read loop.
type Handler func(ctx context.Context, evt Event)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
	// warnInterval caps repeated identical connection warnings.
	warnInterval = 30 * time.Second
	// frameBuffer bounds how far the read loop may run ahead of the
	// handlers before frames are dropped; the queue poll re-derives any
	// state a dropped frame carried.
	frameBuffer = 64
)

// Listener maintains the push-event connection and dispatches events by
// name.
type Listener struct {
	url    string
	log    zerolog.Logger
	dialer *websocket.Dialer

	mu       sync.RWMutex
	handlers map[string][]Handler

	frames chan []byte

	warnMu   sync.Mutex
	lastWarn time.Time
}

// NewListener creates a listener for the push channel at url.
func NewListener(url string, logger zerolog.Logger) *Listener {
	return &Listener{
		url:      url,
		log:      logger,
		dialer:   websocket.DefaultDialer,
		handlers: make(map[string][]Handler),
		frames:   make(chan []byte, frameBuffer),
	}
}

// On registers a handler for the named event.
func (l *Listener) On(name string, h Handler) {
	l.mu.Lock()
	l.handlers[name] = append(l.handlers[name], h)
	l.mu.Unlock()
}

// Run connects and reads events until ctx is done, reconnecting with
// capped exponential backoff after every failure.
func (l *Listener) Run(ctx context.Context) {
	go l.dispatchLoop(ctx)

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
		if err != nil {
			l.warnConnect(err)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		l.log.Info().Str("url", l.url).Msg("push channel connected")
		backoff = initialBackoff
		l.readLoop(ctx, conn)
		conn.Close()
		if !sleep(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

func (l *Listener) readLoop(ctx context.Context, conn *websocket.Conn) {
	// Unblock ReadMessage when ctx is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				l.warnConnect(err)
			}
			return
		}
		l.enqueue(message)
	}
}

// enqueue hands a frame to the dispatch goroutine without ever blocking
// the read loop. When the handlers fall behind the frame is dropped.
func (l *Listener) enqueue(raw []byte) {
	select {
	case l.frames <- raw:
	default:
		l.log.Warn().Msg("event handlers falling behind, dropping push frame")
	}
}

func (l *Listener) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-l.frames:
			l.Dispatch(ctx, raw)
		}
	}
}

// Dispatch decodes a raw frame and fans it out to the handlers registered
// for its name. Malformed frames are dropped.
func (l *Listener) Dispatch(ctx context.Context, raw []byte) {
	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil || evt.Name == "" {
		l.log.Debug().Msg("dropping malformed push event")
		return
	}

	l.mu.RLock()
	handlers := append([]Handler(nil), l.handlers[evt.Name]...)
	l.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, evt)
	}
}

func (l *Listener) warnConnect(err error) {
	l.warnMu.Lock()
	now := time.Now()
	if now.Sub(l.lastWarn) < warnInterval {
		l.warnMu.Unlock()
		return
	}
	l.lastWarn = now
	l.warnMu.Unlock()
	l.log.Warn().Err(err).Str("url", l.url).Msg("push channel unavailable, retrying")
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
