// internal/models/session.go
package models

import "time"

// GuestPrefix is prepended to the socket id to build a guest player id.
const GuestPrefix = "guest_"

// Session is the registry's record of one live client connection.
type Session struct {
	SocketID     string    `json:"socketId"`
	PlayerID     string    `json:"playerId"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
	RoomID       string    `json:"roomId,omitempty"` // empty when not assigned to a room
	Guest        bool      `json:"guest"`
}

// InRoom reports whether the session is currently bound to a room.
func (s Session) InRoom() bool {
	return s.RoomID != ""
}

// GuestPlayerID synthesizes the identity used when no valid credential was presented.
func GuestPlayerID(socketID string) string {
	return GuestPrefix + socketID
}
