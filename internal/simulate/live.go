package simulate

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/TinchoF/gym-score-be/internal/domain/model"
)

const observerID = "sim-observer"

type liveMessage struct {
	Type    string `json:"type"`
	Deleted bool   `json:"deleted"`
}

// watcher counts live events seen by a staff observer.
type watcher struct {
	conn *websocket.Conn
	done chan struct{}

	mu      sync.Mutex
	events  int
	deleted int
}

func liveURL(base, institution string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidConfig, u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/live"
	u.RawQuery = url.Values{
		"institution": {institution},
		"caller":      {observerID},
		"role":        {string(model.RoleAdmin)},
	}.Encode()
	return u.String(), nil
}

func watch(ctx context.Context, cfg Config) (*watcher, error) {
	target, err := liveURL(cfg.BaseURL, cfg.Institution)
	if err != nil {
		return nil, err
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial live channel: %w", err)
	}
	w := &watcher{conn: conn, done: make(chan struct{})}
	go w.read()
	return w, nil
}

func (w *watcher) read() {
	defer close(w.done)
	for {
		var msg liveMessage
		if err := w.conn.ReadJSON(&msg); err != nil {
			return
		}
		w.mu.Lock()
		w.events++
		if msg.Deleted {
			w.deleted++
		}
		w.mu.Unlock()
	}
}

// close stops reading and returns the counts.
func (w *watcher) close() (events, deleted int) {
	_ = w.conn.Close()
	<-w.done
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.events, w.deleted
}
