package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nimbus-actors/nimbus/internal/actor"
)

// Worker-transport framing/keepalive constants, mirroring the teacher's
// web.Hub/WSClient tuning (internal/web/ws_client.go).
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wireFrame is the one-envelope-per-frame format a Worker connection
// exchanges: the target address plus the JSON-flattened envelope, per
// spec.md §4.14 ("each frame is one JSON envelope").
type wireFrame struct {
	To  string          `json:"to"`
	Env json.RawMessage `json:"env"`
}

// workerConn wraps one websocket connection to a worker-isolated client,
// in the shape of the teacher's WSClient: a buffered outbound channel
// drained by its own writer goroutine, and a read loop feeding the shared
// inbound channel.
type workerConn struct {
	conn *websocket.Conn
	send chan wireFrame

	mu     sync.Mutex
	closed bool
}

func newWorkerConn(conn *websocket.Conn) *workerConn {
	return &workerConn{conn: conn, send: make(chan wireFrame, sendBufferSize)}
}

func (c *workerConn) enqueue(f wireFrame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

func (c *workerConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.send)
	c.conn.Close()
}

func (c *workerConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(f); err != nil {
				log.WarnS(context.Background(), "worker transport: write failed", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *workerConn) readLoop(inbound chan<- InboundEnvelope) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var f wireFrame
		if err := c.conn.ReadJSON(&f); err != nil {
			return
		}

		addr, err := actor.ParseAddress(f.To)
		if err != nil {
			log.WarnS(context.Background(), "worker transport: bad frame address", err)
			continue
		}

		var env actor.Envelope
		if err := json.Unmarshal(f.Env, &env); err != nil {
			log.WarnS(context.Background(), "worker transport: bad frame envelope", err)
			continue
		}
		if err := actor.ValidateForTransport(env); err != nil {
			log.WarnS(context.Background(), "worker transport: rejected frame", err)
			continue
		}

		select {
		case inbound <- InboundEnvelope{To: addr, Env: env}:
		default:
			log.WarnS(context.Background(), "worker transport: inbound channel full, dropping frame", nil)
		}
	}
}

// Worker is a websocket-framed carrier for browser/worker-isolated
// actors, per spec.md §4.14. One Worker instance accepts many client
// connections (via Upgrade) and fans outbound Sends to whichever
// connections are registered for the destination node.
type Worker struct {
	mu    sync.RWMutex
	conns map[string]*workerConn // keyed by node name

	inbound chan InboundEnvelope

	closeOnce sync.Once
}

// NewWorker constructs an empty Worker transport.
func NewWorker() *Worker {
	return &Worker{
		conns:   make(map[string]*workerConn),
		inbound: make(chan InboundEnvelope, 256),
	}
}

// Upgrade promotes an HTTP request to a websocket connection registered
// under node, and starts its read/write loops. Call this from the
// daemon's worker-transport HTTP handler.
func (w *Worker) Upgrade(rw http.ResponseWriter, r *http.Request, node string) error {
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return fmt.Errorf("worker transport: upgrade failed: %w", err)
	}

	wc := newWorkerConn(conn)

	w.mu.Lock()
	if old, ok := w.conns[node]; ok {
		old.close()
	}
	w.conns[node] = wc
	w.mu.Unlock()

	go wc.writeLoop()
	go func() {
		wc.readLoop(w.inbound)
		w.mu.Lock()
		if w.conns[node] == wc {
			delete(w.conns, node)
		}
		w.mu.Unlock()
		wc.close()
	}()

	return nil
}

// Send implements Transport: it frames env for addr's node and queues it
// on that node's connection, if one is registered.
func (w *Worker) Send(ctx context.Context, addr actor.Address, env actor.Envelope) error {
	if err := actor.ValidateForTransport(env); err != nil {
		return err
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("worker transport: marshal envelope: %w", err)
	}

	w.mu.RLock()
	conn, ok := w.conns[addr.Node]
	w.mu.RUnlock()
	if !ok {
		return fmt.Errorf("worker transport: no connection registered for node %q", addr.Node)
	}

	if !conn.enqueue(wireFrame{To: addr.Path(), Env: raw}) {
		return fmt.Errorf("worker transport: send buffer full for node %q", addr.Node)
	}
	return nil
}

// Receive implements Transport.
func (w *Worker) Receive() <-chan InboundEnvelope { return w.inbound }

// Close implements Transport: it tears down every registered connection.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		for _, c := range w.conns {
			c.close()
		}
		w.conns = make(map[string]*workerConn)
		w.mu.Unlock()
		close(w.inbound)
	})
	return nil
}

var _ Transport = (*Worker)(nil)
