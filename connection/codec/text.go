package codec

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

type Text struct{}

func (Text) Name() string { return TextSubprotocol }

// Encode sends the string body of a text message as-is. A raw string has no
// room for a type tag, so messages of any other type are refused.
func (Text) Encode(message Message) ([]byte, error) {
	if message.Type != TextType {
		return nil, &EncodeError{Type: message.Type, Reason: "text framing only carries text messages"}
	}

	var text string
	if err := json.Unmarshal(message.Body, &text); err != nil {
		return nil, &EncodeError{Type: message.Type, Reason: "text message body must be a json string"}
	}
	return []byte(text), nil
}

func (Text) Decode(payload []byte) (Message, error) {
	if !utf8.Valid(payload) {
		return Message{}, &DecodeError{Payload: payload, InnerErr: fmt.Errorf("payload is not valid utf-8")}
	}
	return NewTextMessage(string(payload)), nil
}
