package room

import "github.com/Tyrowin/chatrooms/internal/chat"

// Close codes and reasons a room uses when it ends a connection.
const (
	CloseNormal        = 1000
	CloseGoingAway     = 1001
	CloseInternalError = 1011

	ReasonClosed             = "closed"
	ReasonShutdown           = "server shutting down"
	ReasonSessionNotFound    = "Session not found"
	ReasonSessionWithoutName = "Session without name"
	ReasonSendFailed         = "Message delivery failed"
)

// Attachment is the small record a room keeps on the connection handle
// itself. It outlives the room's in-memory session map, which is rebuilt
// from it after hibernation.
type Attachment struct {
	Name       string `json:"name,omitempty"`
	LimiterKey string `json:"limiterId"`
}

// Conn is a live client connection as seen by a room. Send must not block
// on the network; implementations queue the frame for a writer. SendBatch
// queues several frames as one unit: either all of them are accepted, in
// order, or none is.
type Conn interface {
	ID() string
	Send(payload []byte) error
	SendBatch(payloads [][]byte) error
	Close(code int, reason string) error
	Attachment() Attachment
	SetAttachment(Attachment)
}

// session is the room's in-memory view of one connection.
type session struct {
	name       string
	limiterKey string
	// pending holds broadcasts (and the history backlog) until the
	// session names itself.
	pending []chat.Message
}

func (s *session) anonymous() bool {
	return s.name == ""
}
