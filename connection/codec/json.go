package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type JSON struct{}

func (JSON) Name() string { return JSONSubprotocol }

func (JSON) Encode(message Message) ([]byte, error) {
	if message.Type == "" {
		return nil, &EncodeError{Reason: "message type is required"}
	}

	if len(message.Body) > 0 && !json.Valid(message.Body) {
		return nil, &EncodeError{Type: message.Type, Reason: "message body is not valid json"}
	}

	// html escaping would rewrite bodies and break decode(encode(m)) == m
	payload, err := marshal(message)
	if err != nil {
		return nil, &EncodeError{Type: message.Type, Reason: err.Error()}
	}
	return payload, nil
}

func (JSON) Decode(payload []byte) (Message, error) {
	var message Message
	if err := json.Unmarshal(payload, &message); err != nil {
		return Message{}, &DecodeError{Payload: payload, InnerErr: err}
	}

	if message.Type == "" {
		return Message{}, &DecodeError{Payload: payload, InnerErr: fmt.Errorf("missing message type")}
	}

	// an explicit null body is the same as no body
	if bytes.Equal(message.Body, []byte("null")) {
		message.Body = nil
	}

	return message, nil
}
