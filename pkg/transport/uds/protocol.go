package uds

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/modoterra/logtap/pkg/core"
)

var reqCounter atomic.Uint64

// MsgType identifies the kind of message.
type MsgType string

const (
	MsgTypeReq MsgType = "req"
	MsgTypeRes MsgType = "res"
	MsgTypeEvt MsgType = "evt"
)

// Message is the NDJSON envelope for all communication.
type Message struct {
	Type   MsgType         `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// UnmarshalData decodes the message payload into v.
func (m Message) UnmarshalData(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("message %s has no data", m.ID)
	}
	return json.Unmarshal(m.Data, v)
}

// NewRequest creates a new request message with a unique ID.
func NewRequest(method string, data any) (Message, error) {
	id := fmt.Sprintf("req-%d", reqCounter.Add(1))
	raw, err := encode(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: MsgTypeReq, ID: id, Method: method, Data: raw}, nil
}

// NewResponse creates a response to a request.
func NewResponse(reqID, method string, data any) (Message, error) {
	raw, err := encode(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: MsgTypeRes, ID: reqID, Method: method, Data: raw}, nil
}

// NewErrorResponse creates an error response.
func NewErrorResponse(reqID, method, errMsg string) Message {
	return Message{Type: MsgTypeRes, ID: reqID, Method: method, Error: errMsg}
}

// NewEvent creates a server-pushed event.
func NewEvent(method string, data any) (Message, error) {
	id := fmt.Sprintf("evt-%d", reqCounter.Add(1))
	raw, err := encode(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: MsgTypeEvt, ID: id, Method: method, Data: raw}, nil
}

func encode(data any) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Methods
const (
	MethodPing            = "Ping"
	MethodVersion         = "Version"
	MethodListResources   = "ListResources"
	MethodAction          = "Action"
	MethodLogsSubscribe   = "LogsSubscribe"
	MethodLogsUnsubscribe = "LogsUnsubscribe"

	EventResourcesDelta = "resources.delta"
	EventLogsBatch      = "logs.batch"
	EventLogsEnd        = "logs.end"
)

// PingResponse is the response to a Ping request.
type PingResponse struct {
	Pong bool `json:"pong"`
}

// VersionResponse reports daemon and platform versions.
type VersionResponse struct {
	Version         string `json:"version"`
	PlatformVersion string `json:"platform_version,omitempty"`
}

// ActionRequest is the payload for an Action request.
type ActionRequest struct {
	ResourceID string `json:"resource_id"`
	Action     string `json:"action"` // start, stop, restart
}

// LogsSubscribeRequest asks the daemon to stream a resource's logs.
type LogsSubscribeRequest struct {
	ResourceID string `json:"resource_id"`
}

// LogsUnsubscribeRequest stops a log stream for this client.
type LogsUnsubscribeRequest struct {
	ResourceID string `json:"resource_id"`
}

// LogsBatchEvent carries one drained batch of log entries.
type LogsBatchEvent struct {
	ResourceID string             `json:"resource_id"`
	Entries    core.LogEntryBatch `json:"entries"`
}

// LogsEndEvent signals that a resource's log stream ended. Error is
// empty for a clean end and carries the fault otherwise.
type LogsEndEvent struct {
	ResourceID string `json:"resource_id"`
	Error      string `json:"error,omitempty"`
}
