package lsp

import (
	"encoding/json"
	"fmt"
)

// Version is the JSON-RPC protocol version sent on every message.
const Version = "2.0"

// MessageKind discriminates the three wire message shapes.
type MessageKind int

const (
	KindRequest MessageKind = iota
	KindResponse
	KindNotification
)

// Message is the decoded union of request, response, and notification.
// ID is nil for notifications. Responses carry Result or Error and no Method.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError is the JSON-RPC error object of a failed response.
type ResponseError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Kind classifies a decoded message. A message with an id and either a
// result or an error is a response; a message with a method and an id is a
// request; a method without an id is a notification.
func (m *Message) Kind() MessageKind {
	if m.ID != nil && m.Method == "" {
		return KindResponse
	}
	if m.ID != nil {
		return KindRequest
	}
	return KindNotification
}

// NewRequest builds a request message with the given id.
func NewRequest(id int64, method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: Version, ID: &id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification message (no id).
func NewNotification(method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: Version, Method: method, Params: raw}, nil
}

// NewResponse builds a response to the given request id.
func NewResponse(id int64, result any) (*Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Message{JSONRPC: Version, ID: &id, Result: raw}, nil
}

// Encode serializes the message to its JSON wire form.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return data, nil
}

// Decode parses one JSON wire payload into a Message.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	return &m, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return raw, nil
}
