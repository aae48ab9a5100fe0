// Package protocol defines the JSON message vocabulary exchanged between the
// relay server and its clients.
package protocol

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/omochice/relay-chat/pkg/frame"
)

// Type is the value of the mandatory "type" discriminator.
type Type string

// Recognized message types.
const (
	TypeAuth                     Type = "auth"
	TypeAuthSuccess              Type = "auth_success"
	TypeAuthError                Type = "auth_error"
	TypeMessage                  Type = "message"
	TypeInterlocutorConnected    Type = "interlocutor_connected"
	TypeInterlocutorDisconnected Type = "interlocutor_disconnected"
	TypeInterlocutorOffline      Type = "interlocutor_offline"
	TypeChangeInterlocutor       Type = "change_interlocutor"
	TypeInterlocutorChanged      Type = "interlocutor_changed"
	TypeInterlocutorChangeError  Type = "interlocutor_change_error"
)

// String returns the wire representation of the type.
func (t Type) String() string {
	return string(t)
}

// Known reports whether t is part of the vocabulary.
func (t Type) Known() bool {
	switch t {
	case TypeAuth, TypeAuthSuccess, TypeAuthError, TypeMessage,
		TypeInterlocutorConnected, TypeInterlocutorDisconnected, TypeInterlocutorOffline,
		TypeChangeInterlocutor, TypeInterlocutorChanged, TypeInterlocutorChangeError:
		return true
	default:
		return false
	}
}

// JSON keys.
const (
	keyType                  = "type"
	keyClientName            = "clientName"
	keyInterlocutorName      = "interlocutorName"
	keyInterlocutorConnected = "interlocutorConnected"
	keyNewInterlocutor       = "newInterlocutor"
	keyMessage               = "message"
	keySender                = "sender"
	keyText                  = "text"
	keyTimestamp             = "timestamp"
)

var (
	// ErrMalformed is returned when a payload is not valid JSON.
	ErrMalformed = errors.New("malformed json")
	// ErrNotObject is returned when a payload is valid JSON but not an object.
	ErrNotObject = errors.New("json payload is not an object")
)

// Message is a flat key-value message. Only the fields that belong to Type
// are written on Encode.
type Message struct {
	Type                  Type
	ClientName            string
	InterlocutorName      string
	InterlocutorConnected bool
	NewInterlocutor       string

	// Notice carries the human readable "message" field of replies and notifications.
	Notice    string
	Sender    string
	Text      string
	Timestamp string
}

// Encode encodes the message as a compact JSON object.
func (m *Message) Encode() ([]byte, error) {
	data, err := protojson.Marshal(m.toStruct())
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// EncodeFrame encodes the message and prepends the length prefix.
func (m *Message) EncodeFrame() ([]byte, error) {
	payload, err := m.Encode()
	if err != nil {
		return nil, err
	}
	return frame.Encode(payload)
}

// Decode decodes a JSON object into the message. Fields of the wrong JSON
// kind read as their zero value; an unknown type is not an error.
func (m *Message) Decode(data []byte) error {
	var v structpb.Value
	if err := protojson.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("failed to decode message: %w: %v", ErrMalformed, err)
	}

	obj := v.GetStructValue()
	if obj == nil {
		return fmt.Errorf("failed to decode message: %w", ErrNotObject)
	}

	m.fromStruct(obj)
	return nil
}

// toStruct converts the Message to the generic JSON object written on the wire.
func (m *Message) toStruct() *structpb.Struct {
	fields := map[string]*structpb.Value{
		keyType: structpb.NewStringValue(string(m.Type)),
	}
	str := func(key, val string) { fields[key] = structpb.NewStringValue(val) }
	boolean := func(key string, val bool) { fields[key] = structpb.NewBoolValue(val) }

	switch m.Type {
	case TypeAuth:
		str(keyClientName, m.ClientName)
		str(keyInterlocutorName, m.InterlocutorName)
	case TypeAuthSuccess:
		str(keyMessage, m.Notice)
		str(keyClientName, m.ClientName)
		str(keyInterlocutorName, m.InterlocutorName)
		boolean(keyInterlocutorConnected, m.InterlocutorConnected)
	case TypeMessage:
		str(keyText, m.Text)
		// sender and timestamp are stamped by the server only
		if m.Sender != "" {
			str(keySender, m.Sender)
		}
		if m.Timestamp != "" {
			str(keyTimestamp, m.Timestamp)
		}
	case TypeInterlocutorConnected:
		str(keyInterlocutorName, m.InterlocutorName)
	case TypeChangeInterlocutor:
		str(keyNewInterlocutor, m.NewInterlocutor)
	case TypeInterlocutorChanged:
		str(keyNewInterlocutor, m.NewInterlocutor)
		boolean(keyInterlocutorConnected, m.InterlocutorConnected)
	case TypeAuthError, TypeInterlocutorDisconnected, TypeInterlocutorOffline, TypeInterlocutorChangeError:
		str(keyMessage, m.Notice)
	}

	return &structpb.Struct{Fields: fields}
}

// fromStruct populates the Message from a generic JSON object.
func (m *Message) fromStruct(obj *structpb.Struct) {
	f := obj.GetFields()
	str := func(key string) string { return f[key].GetStringValue() }

	*m = Message{
		Type:                  Type(str(keyType)),
		ClientName:            str(keyClientName),
		InterlocutorName:      str(keyInterlocutorName),
		InterlocutorConnected: f[keyInterlocutorConnected].GetBoolValue(),
		NewInterlocutor:       str(keyNewInterlocutor),
		Notice:                str(keyMessage),
		Sender:                str(keySender),
		Text:                  str(keyText),
		Timestamp:             str(keyTimestamp),
	}
}
