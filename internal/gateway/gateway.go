package gateway

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/flow-bridge/backend/internal/bridge"
	"github.com/flow-bridge/backend/internal/config"
	"github.com/flow-bridge/backend/internal/event"
	"github.com/flow-bridge/backend/internal/producer"
)

// Gateway is the transport-facing layer: it accepts WebSocket
// connections, decodes wire messages, and drives the bridge through its
// in-process contracts. One Connection maps to exactly one bridge
// session, sharing its id.
type Gateway struct {
	cfg       config.GatewayConfig
	bridge    *bridge.Bridge
	producers map[string]producer.Producer
	stats     *Stats

	mu    sync.RWMutex
	conns map[string]*Connection

	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	rateSkip       map[string]bool

	startedAt time.Time
}

// New wires a gateway to the bridge and the named upstream producers.
// All collaborators arrive through this constructor; nothing is read
// from ambient process state.
func New(cfg config.GatewayConfig, b *bridge.Bridge, producers map[string]producer.Producer) *Gateway {
	gw := &Gateway{
		cfg:            cfg,
		bridge:         b,
		producers:      producers,
		stats:          NewStats(),
		conns:          make(map[string]*Connection),
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		rateSkip:       make(map[string]bool),
		startedAt:      time.Now(),
	}

	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		gw.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			gw.allowedHosts[parsed.Host] = true
		}
	}
	for _, t := range cfg.RateLimit.Skip {
		gw.rateSkip[t] = true
	}

	return gw
}

// Stats exposes the gateway counters for the status surface and tests.
func (gw *Gateway) Stats() *Stats { return gw.stats }

// ActiveConnections reports the number of live connections.
func (gw *Gateway) ActiveConnections() int {
	gw.mu.RLock()
	defer gw.mu.RUnlock()
	return len(gw.conns)
}

func (gw *Gateway) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", gw.handleWS)
	mux.HandleFunc("/api/status", gw.handleStatus)
}

func (gw *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin:       gw.checkOrigin,
		EnableCompression: gw.cfg.Compression,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("gateway: upgrade error: %v", err)
		return
	}

	gw.accept(conn, r)
}

func (gw *Gateway) accept(conn *websocket.Conn, r *http.Request) {
	c := &Connection{
		ID:          uuid.NewString(),
		conn:        conn,
		gw:          gw,
		send:        make(chan []byte, sendBuffer),
		limiter:     newSlidingWindow(gw.cfg.RateLimit.Max, gw.cfg.RateLimit.Window),
		connectedAt: time.Now(),
	}
	c.setState(StateConnecting)

	switch err := gw.admit(c, r); err {
	case nil:
	case ErrTooManyConnections:
		gw.stats.ConnectionsRejected.Add(1)
		gw.stats.CountError(CategoryConnection)
		gw.rejectConn(conn, "connection_limit_exceeded",
			fmt.Sprintf("server at capacity (%d connections)", gw.cfg.MaxConnections))
		return
	default:
		gw.stats.CountError(CategoryAuthentication)
		gw.rejectConn(conn, "authentication_failed", "invalid credentials")
		return
	}

	out := gw.bridge.Register(c.ID, bridge.RegisterOptions{Authed: c.authed.Load()})
	c.setState(StateConnected)
	gw.stats.ConnectionsOpened.Add(1)

	go c.writePump(gw.cfg.HeartbeatInterval, gw.writeTimeout())
	go c.outboundPump(out)
	go gw.readLoop(c)

	c.sendMessage(MsgConnectionStatus, ConnectionStatusPayload{
		Status: StateConnected.String(),
		Connection: &ConnectionStatusInfo{
			ID:         c.ID,
			ServerTime: time.Now(),
			Uptime:     "0s",
		},
	})
	log.Printf("gateway: connection %s established from %s", c.ID, conn.RemoteAddr())
}

// admit runs the admission checks: connection limit first (a rejected
// connection never creates a session), then optional transport-level
// auth. A wrong credential at connect time is a hard failure; absent
// credentials just leave the connection unauthenticated until an
// authentication message arrives.
func (gw *Gateway) admit(c *Connection, r *http.Request) error {
	gw.mu.Lock()
	if gw.cfg.MaxConnections > 0 && len(gw.conns) >= gw.cfg.MaxConnections {
		gw.mu.Unlock()
		return ErrTooManyConnections
	}
	gw.conns[c.ID] = c
	gw.mu.Unlock()

	token := tokenFromRequest(r)
	authed := gw.checkToken(token)
	if gw.cfg.Auth.Required && !authed && token != "" {
		gw.mu.Lock()
		delete(gw.conns, c.ID)
		gw.mu.Unlock()
		return ErrAuthenticationFailed
	}
	c.authed.Store(authed)
	return nil
}

// rejectConn sends one structured error frame and drops the transport.
// Used on the admission path, before any session exists.
func (gw *Gateway) rejectConn(conn *websocket.Conn, code, message string) {
	frame, _ := json.Marshal(ServerMessage{
		Type:    MsgError,
		Payload: ErrorPayload{Code: code, Message: message, Category: categoryForCode(code)},
	})
	conn.SetWriteDeadline(time.Now().Add(gw.writeTimeout()))
	conn.WriteMessage(websocket.TextMessage, frame)
	conn.Close()
}

func categoryForCode(code string) string {
	switch code {
	case "authentication_failed":
		return CategoryAuthentication
	case "connection_limit_exceeded":
		return CategoryConnection
	}
	return CategoryInternal
}

func (gw *Gateway) writeTimeout() time.Duration {
	if gw.cfg.WriteTimeout > 0 {
		return gw.cfg.WriteTimeout
	}
	return 10 * time.Second
}

// closeConnection tears one connection down exactly once: session
// unregistered (which unbinds the execution and leaves all rooms), send
// channel closed so the write pump finishes, state driven to
// disconnected. Safe to call from any goroutine, any number of times.
func (gw *Gateway) closeConnection(c *Connection, reason string) {
	c.closeOnce.Do(func() {
		c.setState(StateDisconnecting)

		gw.mu.Lock()
		delete(gw.conns, c.ID)
		gw.mu.Unlock()

		gw.bridge.Unregister(c.ID)

		c.sendMu.Lock()
		c.sendClosed = true
		close(c.send)
		c.sendMu.Unlock()

		c.setState(StateDisconnected)
		log.Printf("gateway: connection %s closed (%s)", c.ID, reason)
	})
}

func (gw *Gateway) readLoop(c *Connection) {
	defer gw.closeConnection(c, "read loop ended")

	resetDeadline := func() {
		if gw.cfg.ConnectionTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(gw.cfg.ConnectionTimeout))
		}
	}
	resetDeadline()
	c.conn.SetPongHandler(func(string) error {
		resetDeadline()
		gw.bridge.Touch(c.ID)
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		resetDeadline()
		gw.stats.MessagesReceived.Add(1)
		gw.handleMessage(c, data)
	}
}

// handleMessage decodes and dispatches one inbound frame. Handlers run
// to completion one at a time per connection; any failure becomes a
// structured error frame on the same connection and never escapes.
func (gw *Gateway) handleMessage(c *Connection, data []byte) {
	start := time.Now()
	defer func() {
		gw.stats.ObserveProcessing(time.Since(start))
		if r := recover(); r != nil {
			log.Printf("gateway: handler panic on %s: %v", c.ID, r)
			c.sendError("internal_error", "internal server error", CategoryInternal)
		}
	}()

	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("malformed_message", "message is not valid JSON", CategoryValidation)
		return
	}

	if !gw.rateSkip[msg.Type] && !c.limiter.Allow(time.Now()) {
		c.sendError("rate_limited", ErrRateLimited.Error(), CategoryConnection)
		return
	}

	gw.bridge.Touch(c.ID)

	if gw.cfg.Auth.Required && !c.authed.Load() {
		switch msg.Type {
		case MsgAuthentication, MsgPing, MsgGetStatus:
		default:
			c.sendError("authentication_required", "authenticate before subscribing", CategoryAuthentication)
			return
		}
	}

	switch msg.Type {
	case MsgSubscribeExecution:
		gw.handleSubscribeExecution(c, msg.Payload)
	case MsgUnsubscribeExecution:
		gw.handleUnsubscribeExecution(c, msg.Payload)
	case MsgSubscribeEvents:
		gw.handleSubscribeEvents(c, msg.Payload)
	case MsgJoinRoom:
		gw.handleJoinRoom(c, msg.Payload)
	case MsgLeaveRoom:
		gw.handleLeaveRoom(c, msg.Payload)
	case MsgAuthentication:
		gw.handleAuthentication(c, msg.Payload)
	case MsgGetStatus:
		gw.handleGetStatus(c)
	case MsgPing:
		c.sendMessage(MsgPong, PongPayload{Timestamp: time.Now()})
	default:
		c.sendError("unknown_message_type", fmt.Sprintf("unknown message type %q", msg.Type), CategoryValidation)
	}
}

// parseKinds converts wire event-type names, rejecting names outside the
// closed set.
func parseKinds(names []string) ([]event.Kind, error) {
	kinds := make([]event.Kind, 0, len(names))
	for _, n := range names {
		k, ok := event.ParseKind(n)
		if !ok {
			return nil, fmt.Errorf("unknown event type %q", n)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func (gw *Gateway) handleSubscribeExecution(c *Connection, raw json.RawMessage) {
	var p SubscribeExecutionPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ExecutionID == "" {
		c.sendError("invalid_payload", "subscribe_execution requires executionId", CategoryValidation)
		return
	}
	kinds, err := parseKinds(p.EventTypes)
	if err != nil {
		c.sendError("invalid_event_type", err.Error(), CategoryValidation)
		return
	}

	if err := gw.bridge.Bind(c.ID, p.ExecutionID); err != nil {
		c.sendError("session_not_found", err.Error(), CategoryValidation)
		return
	}
	if len(kinds) > 0 {
		// The session can be torn down between the two calls.
		if err := gw.bridge.SetEventFilter(c.ID, kinds); err != nil {
			c.sendError("session_not_found", err.Error(), CategoryValidation)
			return
		}
	}
	gw.attachExecutionStreams(c, p.ExecutionID, kinds)

	c.sendMessage(MsgSubscriptionConfirmed, SubscriptionConfirmedPayload{
		Type:        MsgSubscribeExecution,
		ExecutionID: p.ExecutionID,
		EventTypes:  p.EventTypes,
		Timestamp:   time.Now(),
	})
}

// attachExecutionStreams rebuilds the session's merged source for an
// execution binding. AddSource with the same source id replaces the old
// producer subscription, so a rebind swaps streams instead of stacking
// them.
func (gw *Gateway) attachExecutionStreams(c *Connection, executionID string, kinds []event.Kind) {
	merger, err := gw.bridge.Merger(c.ID)
	if err != nil {
		return
	}
	for name, prod := range gw.producers {
		stream, cancel := prod.Subscribe(producer.Filter{ExecutionID: executionID, Kinds: kinds})
		merger.AddSource("exec:"+name, stream.Events(), cancel)
	}
}

func (gw *Gateway) handleUnsubscribeExecution(c *Connection, raw json.RawMessage) {
	var p UnsubscribeExecutionPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ExecutionID == "" {
		c.sendError("invalid_payload", "unsubscribe_execution requires executionId", CategoryValidation)
		return
	}

	gw.bridge.Unbind(c.ID)
	if merger, err := gw.bridge.Merger(c.ID); err == nil {
		for name := range gw.producers {
			merger.RemoveSource("exec:" + name)
		}
	}

	c.sendMessage(MsgSubscriptionConfirmed, SubscriptionConfirmedPayload{
		Type:        MsgUnsubscribeExecution,
		ExecutionID: p.ExecutionID,
		Timestamp:   time.Now(),
	})
}

func (gw *Gateway) handleSubscribeEvents(c *Connection, raw json.RawMessage) {
	var p SubscribeEventsPayload
	if err := json.Unmarshal(raw, &p); err != nil || len(p.EventTypes) == 0 {
		c.sendError("invalid_payload", "subscribe_events requires eventTypes", CategoryValidation)
		return
	}
	kinds, err := parseKinds(p.EventTypes)
	if err != nil {
		c.sendError("invalid_event_type", err.Error(), CategoryValidation)
		return
	}

	if err := gw.bridge.SetEventFilter(c.ID, kinds); err != nil {
		c.sendError("session_not_found", err.Error(), CategoryValidation)
		return
	}

	// Global scope attaches kind-filtered streams across all executions;
	// the default scope only narrows what already-routed traffic gets
	// through.
	if p.Scope == "global" {
		if merger, merr := gw.bridge.Merger(c.ID); merr == nil {
			for name, prod := range gw.producers {
				stream, cancel := prod.Subscribe(producer.Filter{Kinds: kinds})
				merger.AddSource("events:"+name, stream.Events(), cancel)
			}
		}
	}

	c.sendMessage(MsgSubscriptionConfirmed, SubscriptionConfirmedPayload{
		Type:       MsgSubscribeEvents,
		EventTypes: p.EventTypes,
		Timestamp:  time.Now(),
	})
}

func (gw *Gateway) handleJoinRoom(c *Connection, raw json.RawMessage) {
	var p JoinRoomPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.RoomID == "" {
		c.sendError("invalid_payload", "join_room requires roomId", CategoryValidation)
		return
	}

	var cfg *bridge.RoomConfig
	if p.Options != nil {
		cfg = &bridge.RoomConfig{
			Capacity:    p.Options.Capacity,
			RequireAuth: p.Options.RequireAuth,
			Metadata:    p.Options.Metadata,
		}
	}

	switch err := gw.bridge.Join(c.ID, p.RoomID, cfg); err {
	case nil:
		c.sendMessage(MsgRoomJoined, RoomPayload{RoomID: p.RoomID, Timestamp: time.Now()})
	case bridge.ErrRoomCapacityExceeded:
		c.sendError("room_capacity_exceeded", fmt.Sprintf("room %s is full", p.RoomID), CategoryValidation)
	case bridge.ErrRoomAuthRequired:
		c.sendError("room_auth_required", fmt.Sprintf("room %s requires authentication", p.RoomID), CategoryAuthentication)
	default:
		c.sendError("session_not_found", err.Error(), CategoryValidation)
	}
}

func (gw *Gateway) handleLeaveRoom(c *Connection, raw json.RawMessage) {
	var p LeaveRoomPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.RoomID == "" {
		c.sendError("invalid_payload", "leave_room requires roomId", CategoryValidation)
		return
	}
	gw.bridge.Leave(c.ID, p.RoomID)
	c.sendMessage(MsgRoomLeft, RoomPayload{RoomID: p.RoomID, Timestamp: time.Now()})
}

func (gw *Gateway) handleAuthentication(c *Connection, raw json.RawMessage) {
	var p AuthenticationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.sendError("invalid_payload", "malformed authentication payload", CategoryValidation)
		return
	}

	credential := p.Token
	if credential == "" {
		credential = p.APIKey
	}

	if !gw.checkToken(credential) {
		gw.stats.CountError(CategoryAuthentication)
		c.sendMessage(MsgAuthFailure, AuthResultPayload{Timestamp: time.Now(), Reason: "invalid credentials"})
		gw.closeConnection(c, "authentication failed")
		return
	}

	c.authed.Store(true)
	gw.bridge.SetAuthed(c.ID)
	c.sendMessage(MsgAuthSuccess, AuthResultPayload{Timestamp: time.Now()})
}

func (gw *Gateway) handleGetStatus(c *Connection) {
	info, err := gw.bridge.SessionInfo(c.ID)
	if err != nil {
		c.sendMessage(MsgConnectionStatus, ConnectionStatusPayload{
			Status: c.State().String(),
			Error:  err.Error(),
		})
		return
	}
	subs, _ := gw.bridge.Subscriptions(c.ID)
	c.sendMessage(MsgConnectionStatus, ConnectionStatusPayload{
		Status: c.State().String(),
		Connection: &ConnectionStatusInfo{
			ID:                 c.ID,
			ServerTime:         time.Now(),
			SubscriptionsCount: subs,
			Uptime:             time.Since(c.connectedAt).Round(time.Second).String(),
			ExecutionID:        info.ExecutionID,
			Rooms:              info.Rooms,
			Authenticated:      info.Authed,
		},
	})
}

// checkToken validates a transport credential. With auth disabled every
// credential passes; with auth enabled the configured token must match.
func (gw *Gateway) checkToken(token string) bool {
	if !gw.cfg.Auth.Required {
		return true
	}
	return gw.cfg.Auth.Token != "" && token == gw.cfg.Auth.Token
}

func tokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// BroadcastToExecution fans one envelope out to every session bound to
// the execution, internal and socket-backed alike: both kinds sit in the
// same registry, so one routing path serves both.
func (gw *Gateway) BroadcastToExecution(executionID string, env *event.Envelope) int {
	return gw.bridge.Route(executionID, env)
}

// BroadcastToRoom fans one envelope out to the room's current members.
func (gw *Gateway) BroadcastToRoom(roomID string, env *event.Envelope) int {
	return gw.bridge.Broadcast(roomID, env)
}

func (gw *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(gw.allowedOrigins) > 0 {
		if gw.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return gw.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Host
	if host == "" {
		return false
	}
	if host == r.Host {
		return true
	}
	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}
	return false
}

type statusResponse struct {
	Uptime            string               `json:"uptime"`
	ActiveConnections int                  `json:"activeConnections"`
	Sessions          int                  `json:"sessions"`
	Rooms             int                  `json:"rooms"`
	Gateway           StatsSnapshot        `json:"gateway"`
	Delivery          bridge.DeliveryStats `json:"delivery"`
	Process           *processStats        `json:"process,omitempty"`
}

type processStats struct {
	CPUPercent float64 `json:"cpuPercent"`
	RSSBytes   uint64  `json:"rssBytes"`
}

func (gw *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Uptime:            time.Since(gw.startedAt).Round(time.Second).String(),
		ActiveConnections: gw.ActiveConnections(),
		Sessions:          gw.bridge.SessionCount(),
		Rooms:             gw.bridge.RoomCount(),
		Gateway:           gw.stats.Snapshot(),
		Delivery:          gw.bridge.Stats(),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		ps := &processStats{}
		if cpu, err := proc.CPUPercent(); err == nil {
			ps.CPUPercent = cpu
		}
		if mem, err := proc.MemoryInfo(); err == nil {
			ps.RSSBytes = mem.RSS
		}
		resp.Process = ps
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ListenAndServe starts the HTTP server hosting the gateway routes.
func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("gateway listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
