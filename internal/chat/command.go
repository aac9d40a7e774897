package chat

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// MaxNameLength caps display names, in bytes.
const MaxNameLength = 100

// Command is a frame sent from a client to its room.
type Command interface {
	Kind() string
	isCommand()
}

// Join names the session and releases its backlog.
type Join struct {
	Name string
}

// UpdateName renames the session without any announcement.
type UpdateName struct {
	Name string
}

// SendChat posts a chat message.
type SendChat struct {
	Message   string
	Timestamp int64
}

// Unknown carries a tag the room does not understand. Rooms ignore it.
type Unknown struct {
	Tag string
}

func (Join) Kind() string       { return TypeJoin }
func (UpdateName) Kind() string { return TypeUpdateName }
func (SendChat) Kind() string   { return TypeChat }
func (u Unknown) Kind() string  { return u.Tag }

func (Join) isCommand()       {}
func (UpdateName) isCommand() {}
func (SendChat) isCommand()   {}
func (Unknown) isCommand()    {}

type commandFrame struct {
	Type      string      `json:"type"`
	Name      string      `json:"name"`
	Message   string      `json:"message"`
	Timestamp json.Number `json:"timestamp"`
}

// DecodeCommand parses a client frame. Unrecognized tags decode to Unknown
// rather than an error; only frames that are not JSON objects fail.
func DecodeCommand(data []byte) (Command, error) {
	var frame commandFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch frame.Type {
	case TypeJoin:
		return Join{Name: SanitizeName(frame.Name)}, nil
	case TypeUpdateName:
		return UpdateName{Name: SanitizeName(frame.Name)}, nil
	case TypeChat:
		return SendChat{Message: frame.Message, Timestamp: millis(frame.Timestamp)}, nil
	default:
		return Unknown{Tag: frame.Type}, nil
	}
}

// EncodeCommand serializes a command in the client wire format.
func EncodeCommand(cmd Command) ([]byte, error) {
	frame := commandFrame{Type: cmd.Kind()}
	switch c := cmd.(type) {
	case Join:
		frame.Name = c.Name
	case UpdateName:
		frame.Name = c.Name
	case SendChat:
		frame.Message = c.Message
		frame.Timestamp = json.Number(strconv.FormatInt(c.Timestamp, 10))
	}
	return json.Marshal(frame)
}

// millis reads a client timestamp. Fractions are truncated and values
// outside the int64 range saturate.
func millis(n json.Number) int64 {
	if n == "" {
		return 0
	}
	if v, err := n.Int64(); err == nil {
		return v
	}
	f, err := n.Float64()
	switch {
	case err == nil && f >= math.MaxInt64:
		return math.MaxInt64
	case err == nil && f <= math.MinInt64:
		return math.MinInt64
	case err == nil:
		return int64(math.Trunc(f))
	case f > 0:
		return math.MaxInt64
	case f < 0:
		return math.MinInt64
	}
	return 0
}

// SanitizeName trims a display name, removes control characters and caps it
// at MaxNameLength bytes without splitting a rune.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if len(name) <= MaxNameLength {
		return name
	}
	cut := MaxNameLength
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}

var (
	minKeyTime = time.Date(0, time.January, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	maxKeyTime = time.Date(9999, time.December, 31, 23, 59, 59, 999_000_000, time.UTC).UnixMilli()
)

// HistoryKey formats a chat timestamp (Unix milliseconds) as the ISO-8601
// key under which the message is persisted. Keys sort chronologically;
// timestamps outside years 0000 through 9999 are clamped to that range.
func HistoryKey(timestamp int64) string {
	timestamp = max(minKeyTime, min(timestamp, maxKeyTime))
	return time.UnixMilli(timestamp).UTC().Format("2006-01-02T15:04:05.000Z")
}
