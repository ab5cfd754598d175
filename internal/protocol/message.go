// Package protocol defines the cross-runtime message envelope and the
// self-describing wire representation of variables. Values travel as
// primitives encoded per their type tag; a reference travels as its
// symbolic name, never as a native handle.
package protocol

import (
	"encoding/json"
	"time"
)

// MessageType identifies the type of protocol message.
type MessageType string

const (
	// Coordinator operations
	MsgRegister          MessageType = "register"
	MsgGet               MessageType = "get"
	MsgUpdate            MessageType = "update"
	MsgList              MessageType = "list"
	MsgDelete            MessageType = "delete"
	MsgObserve           MessageType = "observe"
	MsgUnobserve         MessageType = "unobserve"
	MsgStartOptimization MessageType = "startOptimization"
	MsgEndOptimization   MessageType = "endOptimization"
	MsgSnapshot          MessageType = "snapshot"

	// Bridge reporting and liveness
	MsgUsageBatch  MessageType = "usageBatch"
	MsgImpactBatch MessageType = "impactBatch"
	MsgHeartbeat   MessageType = "heartbeat"

	// Server-originated messages
	MsgResult MessageType = "result"
	MsgError  MessageType = "error"
	MsgNotify MessageType = "notify"
)

// Message is the base protocol envelope. RID correlates a response with
// its request; notify messages carry no RID.
type Message struct {
	Type MessageType     `json:"type"`
	RID  string          `json:"rid,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a message with a marshaled payload.
func NewMessage(msgType MessageType, rid string, data any) (*Message, error) {
	var raw json.RawMessage
	if data != nil {
		var err error
		raw, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	return &Message{Type: msgType, RID: rid, Data: raw}, nil
}

// ParseMessage parses a raw JSON frame into a message.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Encode serializes a message to JSON.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// WireConstraint is one declared constraint on the wire. Constraints form
// an ordered array, not a JSON object, so declaration order survives
// transport.
type WireConstraint struct {
	Name string          `json:"name"`
	Spec json.RawMessage `json:"spec"`
}

// WireVariable is the self-describing tagged transport form of a variable.
type WireVariable struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	Value        json.RawMessage   `json:"value"`
	Constraints  []WireConstraint  `json:"constraints,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LockHolder   string            `json:"lockHolder,omitempty"`
	CreatedAt    time.Time         `json:"createdAt,omitempty"`
	UpdatedAt    time.Time         `json:"updatedAt,omitempty"`
}

// RegisterRequest asks the coordinator to create a variable.
type RegisterRequest struct {
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	Value        json.RawMessage   `json:"value"`
	Constraints  []WireConstraint  `json:"constraints,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// RegisterResult carries the new variable's id.
type RegisterResult struct {
	ID string `json:"id"`
}

// GetRequest retrieves one variable by id or name.
type GetRequest struct {
	Key string `json:"key"`
}

// GetResult carries one variable.
type GetResult struct {
	Variable WireVariable `json:"variable"`
}

// UpdateRequest replaces a variable's value.
type UpdateRequest struct {
	Key   string            `json:"key"`
	Value json.RawMessage   `json:"value"`
	Cause map[string]string `json:"cause,omitempty"`
}

// ListRequest filters the variable listing.
type ListRequest struct {
	Type       string `json:"type,omitempty"`
	NamePrefix string `json:"namePrefix,omitempty"`
}

// ListResult carries matching variables.
type ListResult struct {
	Variables []WireVariable `json:"variables"`
}

// DeleteRequest removes a variable.
type DeleteRequest struct {
	Key string `json:"key"`
}

// ObserveRequest subscribes the sending session to a variable's updates.
type ObserveRequest struct {
	Key string `json:"key"`
}

// UnobserveRequest removes the sending session's subscription.
type UnobserveRequest struct {
	Key string `json:"key"`
}

// LockRequest starts or ends an optimization session. Session defaults to
// the sending connection's identity when empty.
type LockRequest struct {
	Key     string `json:"key"`
	Session string `json:"session,omitempty"`
}

// UsageEntry is one buffered consumption observation.
type UsageEntry struct {
	VariableID string          `json:"variable_id"`
	Value      json.RawMessage `json:"value"`
	Site       string          `json:"consumption_site"`
	Timestamp  time.Time       `json:"timestamp"`
}

// UsageBatch is one flushed usage report.
type UsageBatch struct {
	Records []UsageEntry `json:"records"`
}

// ImpactEntry is one post-execution measurement keyed by variable.
type ImpactEntry struct {
	VariableID string  `json:"variable_id"`
	Metric     string  `json:"metric_name"`
	Value      float64 `json:"metric_value"`
	Samples    int     `json:"sample_count"`
}

// ImpactBatch is one flushed impact report.
type ImpactBatch struct {
	Records []ImpactEntry `json:"records"`
}

// NotifyMessage delivers a committed update to an observer.
type NotifyMessage struct {
	Variable WireVariable      `json:"variable"`
	Cause    map[string]string `json:"cause,omitempty"`
}

// ErrorMessage reports an operation failure. Code preserves the error kind
// across the runtime boundary; Details carries kind-specific fields such as
// the lock holder or the violated constraint and bound.
type ErrorMessage struct {
	Code        string            `json:"code"`
	Description string            `json:"description"`
	Details     map[string]string `json:"details,omitempty"`
}

// AckResult acknowledges an operation with no other payload.
type AckResult struct {
	OK bool `json:"ok"`
}

// SnapshotResult carries the full exported variable set.
type SnapshotResult struct {
	Variables []WireVariable `json:"variables"`
}
