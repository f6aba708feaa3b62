// internal/models/events.go
package models

import "encoding/json"

// Wire event names. These are part of the client contract.
const (
	EventConnectionAck     = "connection_ack"
	EventPlayerJoined      = "player_joined"
	EventPlayerLeft        = "player_left"
	EventRoomCreated       = "room_created"
	EventRoomPaused        = "room_paused"
	EventRoomResumed       = "room_resumed"
	EventRoomEnded         = "room_ended"
	EventGameState         = "game_state"
	EventMatchmakingQueued = "matchmaking_queued"
	EventMatchmakingLeft   = "matchmaking_left"
	EventMatchmakingStatus = "matchmaking_status"
	EventMatchmakingError  = "matchmaking_error"
	EventMatchFound        = "match_found"
	EventPong              = "pong"
	EventError             = "error"
)

// Message is the envelope for every frame sent over a connection.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage marshals payload into an envelope of the given type.
func NewMessage(event string, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: event, Payload: data}, nil
}

// ConnectionAck is sent to a client once its session is registered.
type ConnectionAck struct {
	SessionID  string `json:"sessionId"`
	PlayerID   string `json:"playerId"`
	ServerTime int64  `json:"serverTime"` // unix millis
}

// PlayerLeft is broadcast to a room when a member leaves or disconnects.
type PlayerLeft struct {
	PlayerID string `json:"playerId"`
	SocketID string `json:"socketId"`
}

// MatchmakingQueued acknowledges an enqueue.
type MatchmakingQueued struct {
	RequestID     string `json:"requestId"`
	EstimatedWait int64  `json:"estimatedWait"` // millis
}

// MatchFound is sent to every matched socket.
type MatchFound struct {
	RoomID   string       `json:"roomId"`
	GameMode string       `json:"gameMode"`
	Players  []RoomPlayer `json:"players"`
}
