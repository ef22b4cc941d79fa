// Package model defines the wire envelope for the JSON-RPC based engine protocol.
package model

import (
	"bytes"
	"encoding/json"

	"go.lsp.dev/jsonrpc2"
)

// Version is the JSON-RPC protocol version sent on every message.
const Version = "2.0"

// Request is an outbound call that expects a Response carrying the same id.
// Ids are generated by the correlator and are unique for the session lifetime.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Notification is a fire-and-forget message with no id and no reply.
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Response answers a prior Request. Exactly one of Result or Error is set.
// ID is kept raw so a server-initiated request's id can be echoed back
// whether the engine used a string or a number.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *jsonrpc2.Error `json:"error,omitempty"`
}

// CancelParams is the payload of a $/cancelRequest notification.
type CancelParams struct {
	ID int64 `json:"id"`
}

// Message is the decoded form of one inbound frame: a tagged union of
// response, notification, and server-initiated request.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpc2.Error `json:"error,omitempty"`
}

// IsResponse reports whether the message answers a request we sent.
func (m *Message) IsResponse() bool {
	return m.hasID() && m.Method == ""
}

// IsNotification reports whether the message is an engine notification.
func (m *Message) IsNotification() bool {
	return m.Method != "" && !m.hasID()
}

// IsRequest reports whether the message is a server-initiated request that
// requires a response from the client.
func (m *Message) IsRequest() bool {
	return m.Method != "" && m.hasID()
}

func (m *Message) hasID() bool {
	return len(m.ID) > 0 && !bytes.Equal(m.ID, []byte("null"))
}

// IDKey normalizes the raw id for pending-request correlation. String and
// number forms of the same id yield the same key, since engines may echo the
// id in either representation.
func (m *Message) IDKey() string {
	return IDKey(m.ID)
}

// IDKey normalizes a raw JSON id value into a correlation key.
func IDKey(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) >= 2 && trimmed[0] == '"' && trimmed[len(trimmed)-1] == '"' {
		return string(trimmed[1 : len(trimmed)-1])
	}
	return string(trimmed)
}
