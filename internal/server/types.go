// Package server defines shared close-handling helpers that are reused
// across client and handler logic.
package server

import (
	"strings"

	"github.com/gorilla/websocket"
)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if err == websocket.ErrCloseSent {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}

// sendableCloseCode maps codes that must never appear in a close frame
// (no status, abnormal closure, TLS failure) and unset codes to a normal
// closure.
func sendableCloseCode(code int) int {
	switch code {
	case 0, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure, websocket.CloseTLSHandshake:
		return websocket.CloseNormalClosure
	default:
		return code
	}
}
