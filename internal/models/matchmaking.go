// internal/models/matchmaking.go
package models

import "time"

// AnyRegion is the grouping marker for requests without a region preference.
const AnyRegion = "any"

// Preferences carries the criteria a player wants to be matched by.
type Preferences struct {
	GameMode string `json:"gameMode"`
	Region   string `json:"region,omitempty"`
}

// GroupKey is the compatibility key used to bucket requests: gameMode + "_" + region.
func (p Preferences) GroupKey() string {
	region := p.Region
	if region == "" {
		region = AnyRegion
	}
	return p.GameMode + "_" + region
}

// MatchmakingRequest is one queued intent to be placed into a room.
type MatchmakingRequest struct {
	RequestID   string      `json:"requestId"`
	PlayerID    string      `json:"playerId"`
	SocketID    string      `json:"socketId"`
	Preferences Preferences `json:"preferences"`
	QueuedAt    time.Time   `json:"queuedAt"`
}
