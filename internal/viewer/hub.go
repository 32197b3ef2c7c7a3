// Package viewer streams loaded tiles to websocket viewers and accepts
// viewpoint updates and evaluation triggers from them.
package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/geo/r3"
	"github.com/gorilla/websocket"

	"github.com/mohammed-shakir/tilestream/internal/core/observability"
	"github.com/mohammed-shakir/tilestream/internal/render"
)

const (
	writeWait   = 5 * time.Second
	readTimeout = 120 * time.Second
	outBuffer   = 256
)

// Controller is what viewers drive: the shared viewpoint and the
// evaluation trigger.
type Controller interface {
	SetViewpoint(v r3.Vector) (revision uint64, err error)
	Trigger(ctx context.Context) (roundID uint64, err error)
}

// Inbound is a message sent by a viewer.
type Inbound struct {
	Type     string     `json:"type"`
	Position [3]float64 `json:"position"`
}

// Outbound is a message sent to viewers.
type Outbound struct {
	Type     string    `json:"type"`
	Tile     *TileMsg  `json:"tile,omitempty"`
	Revision uint64    `json:"revision,omitempty"`
	RoundID  uint64    `json:"round_id,omitempty"`
	Error    string    `json:"error,omitempty"`
	TS       time.Time `json:"ts"`
}

type TileMsg struct {
	ID       string     `json:"id"`
	Depth    int        `json:"depth"`
	Region   [6]float64 `json:"region"`
	Offset   [3]float64 `json:"offset"`
	Geometry []byte     `json:"geometry"`
}

type client struct {
	id  uint64
	out chan []byte
	// closed once the hub stops writing to out
	gone chan struct{}
	once sync.Once
}

func (c *client) drop() { c.once.Do(func() { close(c.gone) }) }

type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader
	ctrl     atomic.Pointer[Controller]
	nextID   atomic.Uint64

	mu      sync.RWMutex
	clients map[uint64]*client
}

var _ render.Renderer = (*Hub)(nil)

func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[uint64]*client),
	}
}

// Bind sets the controller viewer messages act on. Until it is called,
// viewpoint and evaluate messages are answered with an error.
func (h *Hub) Bind(c Controller) { h.ctrl.Store(&c) }

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// AddTile broadcasts t to every connected viewer. A viewer that cannot keep
// up is disconnected rather than allowed to stall the loader.
func (h *Hub) AddTile(t render.LoadedTile) {
	msg := Outbound{
		Type: "tile",
		Tile: &TileMsg{
			ID:       t.ID,
			Depth:    t.Depth,
			Region:   t.Region,
			Offset:   [3]float64{t.LocalOffset.X, t.LocalOffset.Y, t.LocalOffset.Z},
			Geometry: t.Geometry,
		},
		TS: time.Now().UTC(),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("viewer tile marshal failed", "tile_id", t.ID, "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.out <- b:
		default:
			h.logger.Warn("viewer too slow, disconnecting", "client", c.id)
			c.drop()
		}
	}
}

func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		c := &client{
			id:   h.nextID.Add(1),
			out:  make(chan []byte, outBuffer),
			gone: make(chan struct{}),
		}
		h.add(c)
		defer h.remove(c)
		h.logger.DebugContext(r.Context(), "viewer connected", "client", c.id)

		ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
		defer cancel()

		writeErr := make(chan error, 1)
		writerDone := make(chan struct{})
		go func() { writeErr <- h.writeLoop(ctx, conn, c, writerDone) }()

		for {
			armReadDeadline(conn, writerDone)
			_, raw, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var in Inbound
			if err := json.Unmarshal(raw, &in); err != nil {
				h.reply(c, Outbound{Type: "error", Error: "bad message"})
				continue
			}
			h.reply(c, h.handle(ctx, in))
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		h.logger.DebugContext(r.Context(), "viewer disconnected", "client", c.id)
	}
}

type frameConn interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
}

// writeLoop drains c.out into conn until ctx ends, the client is dropped or
// a write fails. On exit it closes done and then expires the read deadline,
// so the reader loop returns and the client is unregistered.
func (h *Hub) writeLoop(ctx context.Context, conn frameConn, c *client, done chan<- struct{}) error {
	defer func() {
		close(done)
		_ = conn.SetReadDeadline(time.Now())
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.gone:
			return errors.New("client dropped")
		case b := <-c.out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				h.logger.Debug("viewer write failed", "client", c.id, "err", err)
				return err
			}
		}
	}
}

// armReadDeadline pushes the read deadline out unless the writer has exited.
// The second check covers a writer that exits between the two calls.
func armReadDeadline(conn frameConn, writerDone <-chan struct{}) {
	select {
	case <-writerDone:
		return
	default:
	}
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	select {
	case <-writerDone:
		_ = conn.SetReadDeadline(time.Now())
	default:
	}
}

func (h *Hub) handle(ctx context.Context, in Inbound) Outbound {
	p := h.ctrl.Load()
	if p == nil {
		return Outbound{Type: "error", Error: "session not open"}
	}
	ctrl := *p
	switch in.Type {
	case "viewpoint":
		rev, err := ctrl.SetViewpoint(r3.Vector{X: in.Position[0], Y: in.Position[1], Z: in.Position[2]})
		if err != nil {
			return Outbound{Type: "error", Error: err.Error()}
		}
		return Outbound{Type: "viewpoint", Revision: rev}
	case "evaluate":
		id, err := ctrl.Trigger(ctx)
		if err != nil {
			return Outbound{Type: "error", Error: err.Error()}
		}
		return Outbound{Type: "round", RoundID: id}
	default:
		return Outbound{Type: "error", Error: "unknown message type " + in.Type}
	}
}

func (h *Hub) reply(c *client, msg Outbound) {
	msg.TS = time.Now().UTC()
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.out <- b:
	default:
		c.drop()
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	observability.SetViewerClients(n)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	n := len(h.clients)
	h.mu.Unlock()
	c.drop()
	observability.SetViewerClients(n)
}
