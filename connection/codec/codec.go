/*
Package codec maps application messages onto websocket payloads. Framing is
one message per payload: the transport already delivers whole messages, so
there is no length prefix, no batching and no reassembly here.

Two framings are provided. JSON, the default, carries a tagged record
{"type": ..., "body": ...}. Text carries raw UTF-8 strings and surfaces them
as messages of type "text" so that peers speaking plain text can share the
same session API.
*/
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	JSONSubprotocol = "json"
	TextSubprotocol = "text"

	// Message type used by the Text codec
	TextType = "text"
)

type Message struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body,omitempty"`
}

// NewMessage marshals body and wraps it in a message of the given type
func NewMessage(messageType string, body interface{}) (Message, error) {
	if body == nil {
		return Message{Type: messageType}, nil
	}

	bodyBytes, err := marshal(body)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s message body: %w", messageType, err)
	}
	return Message{Type: messageType, Body: bodyBytes}, nil
}

// NewTextMessage builds the message the Text codec sends as a raw string
func NewTextMessage(text string) Message {
	body, _ := marshal(text)
	return Message{Type: TextType, Body: body}
}

// marshal is json.Marshal without html escaping, so bodies keep the bytes
// the codecs put on the wire
func marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Unmarshal decodes the message body into v
func (m Message) Unmarshal(v interface{}) error {
	if len(m.Body) == 0 {
		return fmt.Errorf("%s message has no body", m.Type)
	}
	return json.Unmarshal(m.Body, v)
}

func (m Message) String() string {
	return fmt.Sprintf("%s %s", m.Type, string(m.Body))
}

type Codec interface {
	Name() string
	Encode(message Message) ([]byte, error)
	// Decode never panics on malformed input, it returns a *DecodeError
	Decode(payload []byte) (Message, error)
}

// ForSubprotocol picks the codec matching a negotiated subprotocol token.
// An empty token means JSON, matching what the session advertises by default.
func ForSubprotocol(subprotocol string) (Codec, error) {
	switch subprotocol {
	case "", JSONSubprotocol:
		return JSON{}, nil
	case TextSubprotocol:
		return Text{}, nil
	default:
		return nil, fmt.Errorf("no codec for subprotocol %q", subprotocol)
	}
}
