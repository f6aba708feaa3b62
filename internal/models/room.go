// internal/models/room.go
package models

import "time"

// RoomState is a step of the room lifecycle.
//
//	active -> paused -> active
//	active|paused -> ended
type RoomState string

const (
	RoomActive RoomState = "active"
	RoomPaused RoomState = "paused"
	RoomEnded  RoomState = "ended"
)

// RoomPlayer is one roster entry, unique by PlayerID.
type RoomPlayer struct {
	PlayerID string `json:"playerId"`
	SocketID string `json:"socketId"`
}

// Room is a bounded-membership container for one game instance.
type Room struct {
	RoomID     string         `json:"roomId"`
	GameMode   string         `json:"gameMode"`
	MaxPlayers int            `json:"maxPlayers"`
	Players    []RoomPlayer   `json:"players"`
	State      RoomState      `json:"state"`
	GameState  map[string]any `json:"gameState"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// IsActive reports whether the room accepts joins.
func (r Room) IsActive() bool {
	return r.State == RoomActive
}

// HasPlayer reports whether playerID is on the roster.
func (r Room) HasPlayer(playerID string) bool {
	return r.indexOf(playerID) >= 0
}

func (r Room) indexOf(playerID string) int {
	for i, p := range r.Players {
		if p.PlayerID == playerID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy safe to hand out of a lock.
func (r *Room) Clone() Room {
	c := *r
	c.Players = append([]RoomPlayer(nil), r.Players...)
	c.GameState = make(map[string]any, len(r.GameState))
	for k, v := range r.GameState {
		c.GameState[k] = v
	}
	return c
}

// RemovePlayer drops playerID from the roster, reporting whether it was present.
func (r *Room) RemovePlayer(playerID string) (RoomPlayer, bool) {
	i := r.indexOf(playerID)
	if i < 0 {
		return RoomPlayer{}, false
	}
	p := r.Players[i]
	r.Players = append(r.Players[:i], r.Players[i+1:]...)
	return p, true
}

// Room event types recorded for the historian.
const (
	RoomEventCreated   = "room_created"
	RoomEventEnded     = "room_ended"
	RoomEventDestroyed = "room_destroyed"
	RoomEventMatched   = "match_created"
)

// RoomEvent is one lifecycle record published for offline processing.
type RoomEvent struct {
	RoomID    string       `json:"room_id"`
	Type      string       `json:"type"`
	GameMode  string       `json:"game_mode"`
	Players   []RoomPlayer `json:"players"`
	Timestamp int64        `json:"timestamp"` // epoch millis
}
