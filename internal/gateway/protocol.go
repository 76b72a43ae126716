package gateway

import (
	"encoding/json"
	"time"

	"github.com/flow-bridge/backend/internal/event"
)

// Client -> server message types.
const (
	MsgSubscribeExecution   = "subscribe_execution"
	MsgUnsubscribeExecution = "unsubscribe_execution"
	MsgSubscribeEvents      = "subscribe_events"
	MsgJoinRoom             = "join_room"
	MsgLeaveRoom            = "leave_room"
	MsgAuthentication       = "authentication"
	MsgGetStatus            = "get_status"
	MsgPing                 = "ping"
)

// Server -> client message types.
const (
	MsgStreamUpdate          = "stream_update"
	MsgSubscriptionConfirmed = "subscription_confirmed"
	MsgRoomJoined            = "room_joined"
	MsgRoomLeft              = "room_left"
	MsgConnectionStatus      = "connection_status"
	MsgAuthSuccess           = "authentication_success"
	MsgAuthFailure           = "authentication_failure"
	MsgPong                  = "pong"
	MsgError                 = "error"
)

// Wire-level error categories.
const (
	CategoryConnection     = "connection"
	CategoryAuthentication = "authentication"
	CategoryValidation     = "validation"
	CategoryInternal       = "internal"
)

// ClientMessage is the inbound frame: a type tag plus a message-specific
// payload decoded by the handler.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerMessage is the outbound frame.
type ServerMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type SubscribeExecutionPayload struct {
	ExecutionID string   `json:"executionId"`
	EventTypes  []string `json:"eventTypes,omitempty"`
}

type UnsubscribeExecutionPayload struct {
	ExecutionID string `json:"executionId"`
}

type SubscribeEventsPayload struct {
	EventTypes []string `json:"eventTypes"`
	Scope      string   `json:"scope,omitempty"`
}

type RoomOptions struct {
	Capacity    int            `json:"capacity,omitempty"`
	RequireAuth bool           `json:"requireAuth,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type JoinRoomPayload struct {
	RoomID  string       `json:"roomId"`
	Options *RoomOptions `json:"options,omitempty"`
}

type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

type AuthenticationPayload struct {
	Token       string         `json:"token,omitempty"`
	APIKey      string         `json:"apiKey,omitempty"`
	Credentials map[string]any `json:"credentials,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type StreamUpdatePayload struct {
	Update   *event.Envelope `json:"update"`
	Delivery string          `json:"delivery,omitempty"`
}

type SubscriptionConfirmedPayload struct {
	Type        string    `json:"type"`
	ExecutionID string    `json:"executionId,omitempty"`
	EventTypes  []string  `json:"eventTypes,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type RoomPayload struct {
	RoomID    string    `json:"roomId"`
	Timestamp time.Time `json:"timestamp"`
}

type ConnectionStatusInfo struct {
	ID                 string    `json:"id"`
	ServerTime         time.Time `json:"serverTime"`
	SubscriptionsCount int       `json:"subscriptionsCount"`
	Uptime             string    `json:"uptime"`
	ExecutionID        string    `json:"executionId,omitempty"`
	Rooms              []string  `json:"rooms,omitempty"`
	Authenticated      bool      `json:"authenticated"`
}

type ConnectionStatusPayload struct {
	Status     string                `json:"status"`
	Connection *ConnectionStatusInfo `json:"connection,omitempty"`
	Error      string                `json:"error,omitempty"`
}

type AuthResultPayload struct {
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

type PongPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

type ErrorPayload struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
}
