package live

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/TinchoF/gym-score-be/internal/domain/model"
	"github.com/TinchoF/gym-score-be/pkg/logger"
	"github.com/TinchoF/gym-score-be/pkg/metrics"
)

const (
	defaultBroadcastBuffer = 256
	defaultClientBuffer    = 64
)

// Option applies a configuration option to the Hub.
type Option func(*Hub)

// WithBroadcastBuffer sets how many events may wait for the hub loop.
func WithBroadcastBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.broadcastBuffer = n
		}
	}
}

// WithClientBuffer sets the per-client outbound buffer. A client that falls
// this far behind is disconnected.
func WithClientBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.clientBuffer = n
		}
	}
}

// WithCheckOrigin sets the websocket origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) {
		if fn != nil {
			h.upgrader.CheckOrigin = fn
		}
	}
}

// WithLogger sets the hub logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// Hub tracks live clients and delivers each event to every client of the
// event's institution, shaped for the client's role.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once

	mu    sync.RWMutex
	count int

	upgrader        websocket.Upgrader
	broadcastBuffer int
	clientBuffer    int
	logger          logger.Logger
}

// NewHub creates a hub. Call Run to start delivering.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients:         make(map[*Client]struct{}),
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		done:            make(chan struct{}),
		broadcastBuffer: defaultBroadcastBuffer,
		clientBuffer:    defaultClientBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logger.Get().Named("live")
	}
	h.broadcast = make(chan Event, h.broadcastBuffer)
	return h
}

// Run delivers events until ctx is cancelled. All client connections are
// closed on exit.
func (h *Hub) Run(ctx context.Context) {
	defer h.stop()
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.setCount(len(h.clients))
			h.logger.Info(ctx, "live client connected",
				logger.String("client", c.id),
				logger.String("institution", c.caller.InstitutionID),
				logger.String("role", string(c.caller.Role)))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.Debug(ctx, "live client disconnected", logger.String("client", c.id))
			}
		case ev := <-h.broadcast:
			h.deliver(ctx, ev)
		}
	}
}

func (h *Hub) deliver(ctx context.Context, ev Event) {
	// Views are shaped once per role bucket: staff share one payload, judges
	// each get their own.
	var staffPayload []byte
	for c := range h.clients {
		if c.caller.InstitutionID != ev.InstitutionID {
			continue
		}
		var payload []byte
		if c.caller.IsStaff() && staffPayload != nil {
			payload = staffPayload
		} else {
			shaped := ev
			shaped.View = ev.View.Group.For(c.caller)
			data, err := json.Marshal(shaped)
			if err != nil {
				h.logger.Error(ctx, "marshal live event failed", logger.Error(err))
				metrics.RecordErrorByComponent("live", "marshal")
				continue
			}
			payload = data
			if c.caller.IsStaff() {
				staffPayload = data
			}
		}
		select {
		case c.send <- payload:
		default:
			h.logger.Warn(ctx, "dropping slow live client", logger.String("client", c.id))
			metrics.RecordBroadcastDropped("slow_client")
			h.drop(c)
		}
	}
}

// drop must run on the hub loop.
func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
	h.setCount(len(h.clients))
}

func (h *Hub) stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
	metrics.UpdateLiveSubscribers(n)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Publish queues ev for delivery without waiting on clients.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case h.broadcast <- ev:
		metrics.RecordBroadcastPublished("websocket")
		return nil
	default:
		metrics.RecordBroadcastDropped("hub_busy")
		return ErrHubBusy
	}
}

// Serve upgrades the request to a websocket and attaches it as a client of
// caller. It returns once the connection is registered.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, caller model.Caller) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &Client{
		id:     uuid.NewString(),
		hub:    h,
		conn:   conn,
		caller: caller,
		send:   make(chan []byte, h.clientBuffer),
	}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return ErrHubClosed
	}
	go c.writePump()
	go c.readPump()
	return nil
}
