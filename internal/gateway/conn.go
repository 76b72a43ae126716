package gateway

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flow-bridge/backend/internal/event"
)

// ConnState is the per-connection lifecycle. Disconnected is terminal.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

var connStateNames = map[ConnState]string{
	StateConnecting:    "connecting",
	StateConnected:     "connected",
	StateDisconnecting: "disconnecting",
	StateDisconnected:  "disconnected",
}

func (s ConnState) String() string {
	if n, ok := connStateNames[s]; ok {
		return n
	}
	return "unknown"
}

const sendBuffer = 64

// Connection is the transport-specific counterpart of a bridge session.
// It shares the session's id for its whole lifetime. Only the gateway
// moves state forward; transitions are one-way.
type Connection struct {
	ID string

	conn    *websocket.Conn
	gw      *Gateway
	send    chan []byte
	state   atomic.Int32
	limiter *slidingWindow

	authed      atomic.Bool
	connectedAt time.Time

	sendMu     sync.RWMutex
	sendClosed bool
	closeOnce  sync.Once
}

func (c *Connection) State() ConnState {
	return ConnState(c.state.Load())
}

// setState advances the lifecycle; it never moves backwards.
func (c *Connection) setState(s ConnState) {
	for {
		cur := c.state.Load()
		if cur >= int32(s) {
			return
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// enqueue hands a pre-marshalled frame to the write pump. A full buffer
// means the client cannot keep up; the frame is dropped and counted so
// the broadcast path never blocks on one slow connection. The sendMu
// guard keeps the non-blocking send from racing the channel close in
// closeConnection.
func (c *Connection) enqueue(data []byte) bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.sendClosed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.gw.stats.MessagesFailed.Add(1)
		return false
	}
}

// sendMessage marshals and enqueues one frame.
func (c *Connection) sendMessage(msgType string, payload any) {
	data, err := json.Marshal(ServerMessage{Type: msgType, Payload: payload})
	if err != nil {
		log.Printf("gateway: marshal %s for %s: %v", msgType, c.ID, err)
		return
	}
	if c.enqueue(data) {
		c.gw.stats.MessagesSent.Add(1)
	}
}

func (c *Connection) sendError(code, message, category string) {
	c.gw.stats.CountError(category)
	c.sendMessage(MsgError, ErrorPayload{Code: code, Message: message, Category: category})
}

// writePump is the single writer for the socket. It drains the send
// channel and keeps the connection alive with pings at the heartbeat
// interval. Exits when the send channel closes or a write fails.
func (c *Connection) writePump(heartbeat, writeTimeout time.Duration) {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.gw.stats.MessagesFailed.Add(1)
				go c.gw.closeConnection(c, "write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				go c.gw.closeConnection(c, "ping failed")
				return
			}
		}
	}
}

// outboundPump forwards envelopes from the bridge session's channel to
// the socket as stream_update frames. Exits when the session channel
// closes (unregister or reaper eviction), then finishes the disconnect
// so a reaper-evicted session also tears down its transport.
func (c *Connection) outboundPump(out <-chan *event.Envelope) {
	for env := range out {
		c.sendMessage(MsgStreamUpdate, StreamUpdatePayload{Update: env})
	}
	c.gw.closeConnection(c, "session closed")
}
