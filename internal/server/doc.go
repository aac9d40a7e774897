// Package server implements the HTTP and WebSocket edge of the chat room
// service.
//
// The implementation is organized into specialized files for the hub,
// clients, routing, origin checks and HTTP handlers. Room state lives in
// package room; this package only moves frames between sockets and rooms.
package server
