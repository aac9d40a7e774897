// Package chat defines the frames exchanged between a room and its clients.
//
// Outbound frames implement Message and inbound frames implement Command.
// Both are closed sets discriminated on the wire by a "type" field.
package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Wire type tags.
const (
	TypeChat       = "chat"
	TypeSystem     = "system"
	TypeUsers      = "users"
	TypeRateLimit  = "rate-limit"
	TypeJoin       = "join"
	TypeUpdateName = "update-name"
)

// ErrMalformed is returned when a frame is not a JSON object with a type tag.
var ErrMalformed = errors.New("chat: malformed frame")

// Message is a frame sent from a room to its clients.
type Message interface {
	Type() string
	isMessage()
}

// Chat is a user message. It is the only variant that gets persisted.
// Timestamp is the sender's clock in Unix milliseconds, kept verbatim.
type Chat struct {
	Message   string `json:"message"`
	From      string `json:"from"`
	Timestamp int64  `json:"timestamp"`
}

// System is a room announcement.
type System struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Users is the roster of named sessions present in a room.
type Users struct {
	Users []string `json:"users"`
}

// RateLimit tells a single caller how many seconds to wait before retrying.
type RateLimit struct {
	RetryAfter float64 `json:"retryAfter"`
}

func (Chat) Type() string      { return TypeChat }
func (System) Type() string    { return TypeSystem }
func (Users) Type() string     { return TypeUsers }
func (RateLimit) Type() string { return TypeRateLimit }

func (Chat) isMessage()      {}
func (System) isMessage()    {}
func (Users) isMessage()     {}
func (RateLimit) isMessage() {}

// NewSystem builds a System message stamped with now.
func NewSystem(text string, now time.Time) System {
	return System{Message: text, Timestamp: now.UnixMilli()}
}

// NewUsers builds a roster message. A nil slice is sent as an empty list.
func NewUsers(names []string) Users {
	if names == nil {
		names = []string{}
	}
	return Users{Users: names}
}

// NewRateLimit converts a wait duration into a rate-limit notice.
func NewRateLimit(wait time.Duration) RateLimit {
	return RateLimit{RetryAfter: float64(wait.Milliseconds()) / 1000}
}

// Encode serializes a message with its type tag.
func Encode(msg Message) ([]byte, error) {
	var body any
	switch m := msg.(type) {
	case Chat:
		body = struct {
			Type string `json:"type"`
			Chat
		}{m.Type(), m}
	case System:
		body = struct {
			Type string `json:"type"`
			System
		}{m.Type(), m}
	case Users:
		body = struct {
			Type string `json:"type"`
			Users
		}{m.Type(), m}
	case RateLimit:
		body = struct {
			Type string `json:"type"`
			RateLimit
		}{m.Type(), m}
	default:
		return nil, fmt.Errorf("chat: cannot encode %T", msg)
	}
	return json.Marshal(body)
}

// Decode parses an outbound frame back into its Message variant.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeChat:
		var m Chat
		err := json.Unmarshal(data, &m)
		return m, wrapMalformed(err)
	case TypeSystem:
		var m System
		err := json.Unmarshal(data, &m)
		return m, wrapMalformed(err)
	case TypeUsers:
		m := Users{}
		err := json.Unmarshal(data, &m)
		return m, wrapMalformed(err)
	case TypeRateLimit:
		var m RateLimit
		err := json.Unmarshal(data, &m)
		return m, wrapMalformed(err)
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrMalformed, env.Type)
	}
}

// DecodeChat parses a persisted history entry.
func DecodeChat(data []byte) (Chat, error) {
	msg, err := Decode(data)
	if err != nil {
		return Chat{}, err
	}
	c, ok := msg.(Chat)
	if !ok {
		return Chat{}, fmt.Errorf("%w: history entry has type %q", ErrMalformed, msg.Type())
	}
	return c, nil
}

type envelope struct {
	Type string `json:"type"`
}

func wrapMalformed(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}
