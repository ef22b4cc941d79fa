package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageClassification(t *testing.T) {
	tests := []struct {
		name           string
		raw            string
		isResponse     bool
		isNotification bool
		isRequest      bool
	}{
		{
			name:       "response with result",
			raw:        `{"jsonrpc":"2.0","id":3,"result":{"capabilities":{}}}`,
			isResponse: true,
		},
		{
			name:       "response with error",
			raw:        `{"jsonrpc":"2.0","id":3,"error":{"code":-32001,"message":"unsupported"}}`,
			isResponse: true,
		},
		{
			name:           "notification",
			raw:            `{"jsonrpc":"2.0","method":"window/logMessage","params":{"message":"x"}}`,
			isNotification: true,
		},
		{
			name:      "server-initiated request",
			raw:       `{"jsonrpc":"2.0","id":"srv-1","method":"workspace/configuration","params":{}}`,
			isRequest: true,
		},
		{
			name:           "null id is a notification",
			raw:            `{"jsonrpc":"2.0","id":null,"method":"$/progress","params":{}}`,
			isNotification: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg Message
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &msg))
			assert.Equal(t, tt.isResponse, msg.IsResponse())
			assert.Equal(t, tt.isNotification, msg.IsNotification())
			assert.Equal(t, tt.isRequest, msg.IsRequest())
		})
	}
}

func TestIDKeyNormalization(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "number", raw: `7`, want: "7"},
		{name: "string", raw: `"7"`, want: "7"},
		{name: "uuid string", raw: `"abc-def"`, want: "abc-def"},
		{name: "padded", raw: ` 12 `, want: "12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IDKey(json.RawMessage(tt.raw)))
		})
	}
}

func TestResponseErrorRoundTrip(t *testing.T) {
	raw := `{"jsonrpc":"2.0","id":5,"error":{"code":-32601,"message":"method not found"}}`
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	require.NotNil(t, msg.Error)
	assert.Equal(t, int32(-32601), int32(msg.Error.Code))
	assert.Equal(t, "method not found", msg.Error.Message)
}

func TestRequestMarshalOmitsEmptyParams(t *testing.T) {
	data, err := json.Marshal(Request{JSONRPC: Version, ID: 1, Method: "shutdown"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "params")
}
