package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yp-alpha/progression/internal/progression"
)

// ErrTooManyConnections is returned by AddClient when the limit is reached.
var ErrTooManyConnections = errors.New("too many websocket connections")

const sendBuffer = 64

// SnapshotFunc builds the initial message for a newly connected athlete.
type SnapshotFunc func(ctx context.Context, userID string) (*SnapshotPayload, error)

// ClientGauge receives the connected client count.
type ClientGauge interface {
	SetClients(n int)
}

type client struct {
	conn   *websocket.Conn
	b      *Broadcaster
	userID string // empty receives every athlete's events
	send   chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

func (c *client) wants(userID string) bool {
	return c.userID == "" || c.userID == userID
}

// Broadcaster fans committed progression events out to websocket clients.
// Events are batched per throttle window and each client only receives the
// events of the athlete it subscribed to. It implements
// progression.Publisher.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	maxConns int
	snapshot SnapshotFunc
	gauge    ClientGauge
	log      *slog.Logger

	throttle   time.Duration
	flushMu    sync.Mutex
	pending    []progression.Event
	flushTimer *time.Timer
	stopped    bool
}

// NewBroadcaster creates a Broadcaster. maxConns <= 0 means unlimited.
func NewBroadcaster(throttle time.Duration, maxConns int, snapshot SnapshotFunc) *Broadcaster {
	return &Broadcaster{
		clients:  make(map[*client]bool),
		maxConns: maxConns,
		snapshot: snapshot,
		log:      slog.Default(),
		throttle: throttle,
	}
}

// SetGauge installs the client count gauge.
func (b *Broadcaster) SetGauge(g ClientGauge) {
	b.gauge = g
}

// SetLogger replaces the default logger.
func (b *Broadcaster) SetLogger(l *slog.Logger) {
	if l != nil {
		b.log = l
	}
}

// AddClient registers conn for userID's events and queues the snapshot.
func (b *Broadcaster) AddClient(ctx context.Context, conn *websocket.Conn, userID string) (*client, error) {
	c := &client{
		conn:   conn,
		b:      b,
		userID: userID,
		send:   make(chan []byte, sendBuffer),
	}

	// The snapshot is queued before the client is visible to flush, so it is
	// always the first frame.
	if data := b.snapshotFor(ctx, userID); data != nil {
		c.send <- data
	}

	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	b.clients[c] = true
	n := len(b.clients)
	b.mu.Unlock()
	b.reportClients(n)

	go c.writePump()
	return c, nil
}

func (b *Broadcaster) snapshotFor(ctx context.Context, userID string) []byte {
	if b.snapshot == nil || userID == "" {
		return nil
	}
	msg := WSMessage{Type: MsgSnapshot}
	payload, err := b.snapshot(ctx, userID)
	if err != nil {
		msg = WSMessage{Type: MsgError, Payload: ErrorPayload{Message: err.Error()}}
	} else {
		msg.Payload = payload
	}
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.Error("snapshot marshal error", "error", err)
		return nil
	}
	return data
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	_, ok := b.clients[c]
	if ok {
		delete(b.clients, c)
		close(c.send)
	}
	n := len(b.clients)
	b.mu.Unlock()
	if ok {
		b.reportClients(n)
	}
}

// Publish queues ev for the next flush. It never blocks on clients.
func (b *Broadcaster) Publish(ev progression.Event) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()
	if b.stopped {
		return
	}

	b.pending = append(b.pending, ev)

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	events := b.pending
	b.pending = nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	if len(events) == 0 {
		return
	}

	// Sends happen under the read lock so no channel is closed mid-send.
	var slow []*client
	frames := make(map[string][]byte)
	b.mu.RLock()
	for c := range b.clients {
		data, ok := frames[c.userID]
		if !ok {
			data = b.frameFor(c, events)
			frames[c.userID] = data
		}
		if data == nil {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		// Client can't keep up, disconnect it
		b.log.Warn("ws client too slow, disconnecting", "user", c.userID)
		b.RemoveClient(c)
	}
}

// frameFor returns the events frame for c, or nil when none of the events
// concern it.
func (b *Broadcaster) frameFor(c *client, events []progression.Event) []byte {
	var mine []progression.Event
	for _, ev := range events {
		if c.wants(ev.UserID) {
			mine = append(mine, ev)
		}
	}
	if len(mine) == 0 {
		return nil
	}
	data, err := json.Marshal(WSMessage{Type: MsgEvents, Payload: EventsPayload{Events: mine}})
	if err != nil {
		b.log.Error("broadcast marshal error", "error", err)
		return nil
	}
	return data
}

// Stop cancels any pending flush and disconnects every client.
func (b *Broadcaster) Stop() {
	b.flushMu.Lock()
	b.stopped = true
	if b.flushTimer != nil {
		b.flushTimer.Stop()
		b.flushTimer = nil
	}
	b.pending = nil
	b.flushMu.Unlock()

	b.mu.Lock()
	for c := range b.clients {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
	b.reportClients(0)
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) reportClients(n int) {
	if b.gauge != nil {
		b.gauge.SetClients(n)
	}
}

var _ progression.Publisher = (*Broadcaster)(nil)
