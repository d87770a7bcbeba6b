// Package v1 defines the Cellar Sync Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the shipboard server and clients to keep the wire
// protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeConnectionAck acknowledges a new session and assigns its client id (server -> client).
	TypeConnectionAck = "connection_ack"

	// TypeHeartbeat is a liveness ping (client -> server).
	TypeHeartbeat = "heartbeat"
	// TypeHeartbeatAck answers a liveness ping (server -> client).
	TypeHeartbeatAck = "heartbeat_ack"

	// TypeTopicJoin requests membership in a topic (client -> server).
	TypeTopicJoin = "topic_join"
	// TypeTopicJoined confirms topic membership (server -> client).
	TypeTopicJoined = "topic_joined"
	// TypeTopicLeave requests leaving a topic (client -> server).
	TypeTopicLeave = "topic_leave"
	// TypeTopicLeft confirms a topic was left (server -> client).
	TypeTopicLeft = "topic_left"

	// TypeUpdate broadcasts a record-level state change (server -> topic members).
	TypeUpdate = "update"
	// TypeAction broadcasts a named domain action (server -> topic members).
	TypeAction = "action"
	// TypeNotice carries a system notification (server -> client).
	TypeNotice = "notice"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeConnectionAck,
		TypeHeartbeat,
		TypeHeartbeatAck,
		TypeTopicJoin,
		TypeTopicJoined,
		TypeTopicLeave,
		TypeTopicLeft,
		TypeUpdate,
		TypeAction,
		TypeNotice,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// ConnectionAckPayload must carry ClientID (the server-assigned session identity).
type ConnectionAckPayload struct {
	ClientID string `json:"client_id"`
}

// HeartbeatPayload is sent by the client on a fixed interval while connected.
type HeartbeatPayload struct {
	SentAt time.Time `json:"sent_at"`
}

// HeartbeatAckPayload answers a heartbeat.
type HeartbeatAckPayload struct {
	ServerTS time.Time `json:"server_ts"`
}

// TopicJoinPayload requests membership in a topic.
type TopicJoinPayload struct {
	Topic string `json:"topic"`
}

// TopicJoinedPayload confirms membership in a topic.
type TopicJoinedPayload struct {
	Topic string `json:"topic"`
}

// TopicLeavePayload requests leaving a topic.
type TopicLeavePayload struct {
	Topic string `json:"topic"`
}

// TopicLeftPayload confirms a topic was left.
type TopicLeftPayload struct {
	Topic string `json:"topic"`
}

// UpdatePayload broadcasts a record-level change. Conflict policy is
// last-writer-wins per record; Origin lets a client recognize and drop
// echoes of its own writes.
type UpdatePayload struct {
	Entity    string          `json:"entity"`
	EntityID  string          `json:"entity_id"`
	Data      json.RawMessage `json:"data,omitempty"`
	Deleted   bool            `json:"deleted,omitempty"`
	Origin    string          `json:"origin,omitempty"`
	Actor     string          `json:"actor,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ActionPayload broadcasts a named domain action (e.g. a pairing suggestion
// pushed to all crew devices).
type ActionPayload struct {
	Name   string          `json:"name"`
	Params json.RawMessage `json:"params,omitempty"`
}

// NoticePayload carries a system notification for UI consumption.
type NoticePayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
