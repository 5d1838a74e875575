// Package streamgw bridges the event bus to websocket subscribers: a
// dashboard opens one connection and receives every finalized metric
// and persisted alert as a JSON frame, for as long as the connection
// stays open.
package streamgw

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/websocket"

	"pulsecore/internal/domain"
	"pulsecore/internal/eventbus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Frame is the JSON envelope every websocket message is wrapped in, so
// a single connection can carry both metric and alert traffic.
type Frame struct {
	Type   string                 `json:"type"`
	Metric *domain.Metric         `json:"metric,omitempty"`
	Alert  *domain.PersistedAlert `json:"alert,omitempty"`
}

// client is a single connected subscriber; writes are serialized
// through writeMu to guard the connection against concurrent writers.
// ServeHTTP forwards both metrics and alerts from one loop, so that
// loop is the only writer today.
type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) send(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Gateway upgrades incoming HTTP requests to websocket connections and
// forwards every bus event to every connected client.
type Gateway struct {
	bus *eventbus.Bus
	log log.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// New creates a Gateway over bus.
func New(bus *eventbus.Bus, logger log.Logger) *Gateway {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Gateway{bus: bus, log: logger, clients: make(map[*client]struct{})}
}

// ServeHTTP upgrades the connection and keeps it registered until the
// client disconnects or a write fails.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		level.Warn(g.log).Log("msg", "websocket upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn}
	g.register(c)
	defer g.unregister(c)

	metricCh, unsubMetrics := g.bus.SubscribeMetrics(64)
	defer unsubMetrics()
	alertCh, unsubAlerts := g.bus.SubscribeAlerts(64)
	defer unsubAlerts()

	done := make(chan struct{})
	go g.readLoop(conn, done)

	for {
		select {
		case <-done:
			return
		case m, ok := <-metricCh:
			if !ok {
				return
			}
			if err := c.send(Frame{Type: "metric", Metric: &m}); err != nil {
				return
			}
		case a, ok := <-alertCh:
			if !ok {
				return
			}
			if err := c.send(Frame{Type: "alert", Alert: &a}); err != nil {
				return
			}
		}
	}
}

// readLoop drains (and discards) client frames so the websocket
// library's ping/pong and close handling keeps working, and closes
// done once the peer disconnects.
func (g *Gateway) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (g *Gateway) register(c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clients[c] = struct{}{}
}

func (g *Gateway) unregister(c *client) {
	g.mu.Lock()
	delete(g.clients, c)
	g.mu.Unlock()
	c.conn.Close()
}

// ClientCount returns the number of currently connected clients, for
// introspection.
func (g *Gateway) ClientCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}
