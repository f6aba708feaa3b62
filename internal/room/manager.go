// internal/room/manager.go
package room

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/arena/internal/models"
	"github.com/sirupsen/logrus"
)

// DefaultMaxPlayers is the capacity used when CreateRoom is not given one.
const DefaultMaxPlayers = 4

var (
	ErrRoomExists      = errors.New("room already exists")
	ErrRoomFull        = errors.New("initial roster exceeds room capacity")
	ErrDuplicatePlayer = errors.New("duplicate player in roster")
)

// Broadcaster delivers an event to every member of a room.
type Broadcaster interface {
	BroadcastToRoom(roomID, event string, payload any)
}

// SessionBinder keeps Session.roomId in sync with room rosters.
type SessionBinder interface {
	GetSession(socketID string) (models.Session, bool)
	AssignRoom(socketID, roomID string)
	RemoveRoomAssignment(socketID string)
}

// Recorder receives lifecycle records. Calls happen off the hot path.
type Recorder interface {
	RecordRoomEvent(ctx context.Context, ev models.RoomEvent) error
}

// CreateOptions describes a new room.
type CreateOptions struct {
	GameMode   string
	MaxPlayers int // DefaultMaxPlayers when zero
	Players    []models.RoomPlayer
}

// Manager owns every live room and its state machine.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*models.Room

	broadcaster Broadcaster
	binder      SessionBinder
	recorder    Recorder
	maxPlayers  int
	logger      *logrus.Logger
	now         func() time.Time
}

// NewManager returns an empty manager. binder may be nil in isolation tests.
func NewManager(logger *logrus.Logger, broadcaster Broadcaster, binder SessionBinder) *Manager {
	return &Manager{
		rooms:       make(map[string]*models.Room),
		broadcaster: broadcaster,
		binder:      binder,
		maxPlayers:  DefaultMaxPlayers,
		logger:      logger,
		now:         time.Now,
	}
}

// SetRecorder attaches a lifecycle recorder.
func (m *Manager) SetRecorder(r Recorder) {
	m.recorder = r
}

// SetDefaultMaxPlayers overrides the capacity used when none is requested.
func (m *Manager) SetDefaultMaxPlayers(n int) {
	if n > 0 {
		m.maxPlayers = n
	}
}

// CreateRoom registers an Active room with the given roster, binds the roster's
// sessions to it and broadcasts room_created. An empty roomID is generated.
func (m *Manager) CreateRoom(roomID string, opts CreateOptions) (models.Room, error) {
	if roomID == "" {
		roomID = "room_" + uuid.NewString()
	}
	maxPlayers := opts.MaxPlayers
	if maxPlayers <= 0 {
		maxPlayers = m.maxPlayers
	}
	if len(opts.Players) > maxPlayers {
		return models.Room{}, fmt.Errorf("room %s: %d players for %d seats: %w", roomID, len(opts.Players), maxPlayers, ErrRoomFull)
	}
	seen := make(map[string]struct{}, len(opts.Players))
	for _, p := range opts.Players {
		if _, dup := seen[p.PlayerID]; dup {
			return models.Room{}, fmt.Errorf("room %s: player %s: %w", roomID, p.PlayerID, ErrDuplicatePlayer)
		}
		seen[p.PlayerID] = struct{}{}
	}

	room := &models.Room{
		RoomID:     roomID,
		GameMode:   opts.GameMode,
		MaxPlayers: maxPlayers,
		Players:    append([]models.RoomPlayer{}, opts.Players...),
		State:      models.RoomActive,
		GameState:  make(map[string]any),
		CreatedAt:  m.now(),
	}

	m.mu.Lock()
	if _, exists := m.rooms[roomID]; exists {
		m.mu.Unlock()
		return models.Room{}, fmt.Errorf("room %s: %w", roomID, ErrRoomExists)
	}
	m.rooms[roomID] = room
	snapshot := room.Clone()
	m.mu.Unlock()

	if m.binder != nil {
		for _, p := range snapshot.Players {
			m.binder.AssignRoom(p.SocketID, roomID)
		}
	}

	m.logger.WithFields(logrus.Fields{
		"room_id":     roomID,
		"game_mode":   snapshot.GameMode,
		"max_players": maxPlayers,
		"players":     len(snapshot.Players),
	}).Info("Room created")

	m.broadcast(roomID, models.EventRoomCreated, snapshot)
	m.record(models.RoomEventCreated, snapshot)
	return snapshot, nil
}

// GetRoom returns a copy of the room.
func (m *Manager) GetRoom(roomID string) (models.Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return models.Room{}, false
	}
	return room.Clone(), true
}

// AddPlayer appends a player to an Active room with a free seat.
func (m *Manager) AddPlayer(roomID, playerID, socketID string) bool {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	if !ok || room.State != models.RoomActive || len(room.Players) >= room.MaxPlayers || room.HasPlayer(playerID) {
		m.mu.Unlock()
		m.logger.WithFields(logrus.Fields{
			"room_id":   roomID,
			"player_id": playerID,
			"found":     ok,
		}).Debug("Rejected join")
		return false
	}
	room.Players = append(room.Players, models.RoomPlayer{PlayerID: playerID, SocketID: socketID})
	count := len(room.Players)
	m.mu.Unlock()

	if m.binder != nil {
		m.binder.AssignRoom(socketID, roomID)
	}
	m.logger.WithFields(logrus.Fields{"room_id": roomID, "player_id": playerID}).Info("Player joined room")
	m.broadcast(roomID, models.EventPlayerJoined, map[string]any{
		"playerId":    playerID,
		"socketId":    socketID,
		"playerCount": count,
	})
	return true
}

// RemovePlayer drops a player from the roster. The room is destroyed in the
// same call when its roster becomes empty.
func (m *Manager) RemovePlayer(roomID, playerID string) bool {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	player, removed := room.RemovePlayer(playerID)
	if !removed {
		m.mu.Unlock()
		return false
	}
	destroyed := len(room.Players) == 0
	var snapshot models.Room
	if destroyed {
		delete(m.rooms, roomID)
		snapshot = room.Clone()
	}
	m.mu.Unlock()

	m.release(player.SocketID, roomID)
	m.logger.WithFields(logrus.Fields{"room_id": roomID, "player_id": playerID}).Info("Player left room")

	if destroyed {
		m.logger.WithField("room_id", roomID).Info("Room destroyed: no players left")
		m.record(models.RoomEventDestroyed, snapshot)
	}
	return true
}

// PauseRoom moves an Active room to Paused.
func (m *Manager) PauseRoom(roomID string) bool {
	room, ok := m.transition(roomID, models.RoomActive, models.RoomPaused)
	if ok {
		m.broadcast(roomID, models.EventRoomPaused, map[string]any{"roomId": roomID, "state": room.State})
	}
	return ok
}

// ResumeRoom moves a Paused room back to Active.
func (m *Manager) ResumeRoom(roomID string) bool {
	room, ok := m.transition(roomID, models.RoomPaused, models.RoomActive)
	if ok {
		m.broadcast(roomID, models.EventRoomResumed, map[string]any{"roomId": roomID, "state": room.State})
	}
	return ok
}

// EndRoom terminates an Active or Paused room. Ended rooms are removed from the
// registry and their members unbound, so a second call returns false.
func (m *Manager) EndRoom(roomID string) bool {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	if !ok || (room.State != models.RoomActive && room.State != models.RoomPaused) {
		m.mu.Unlock()
		return false
	}
	room.State = models.RoomEnded
	delete(m.rooms, roomID)
	snapshot := room.Clone()
	m.mu.Unlock()

	m.broadcast(roomID, models.EventRoomEnded, map[string]any{
		"roomId":    roomID,
		"state":     snapshot.State,
		"gameState": snapshot.GameState,
	})
	for _, p := range snapshot.Players {
		m.release(p.SocketID, roomID)
	}

	m.logger.WithField("room_id", roomID).Info("Room ended")
	m.record(models.RoomEventEnded, snapshot)
	return true
}

// transition applies from -> to under the lock.
func (m *Manager) transition(roomID string, from, to models.RoomState) (models.Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok || room.State != from {
		return models.Room{}, false
	}
	room.State = to
	m.logger.WithFields(logrus.Fields{"room_id": roomID, "from": from, "to": to}).Info("Room state changed")
	return room.Clone(), true
}

// GetActiveRooms lists rooms in the Active state, oldest first.
func (m *Manager) GetActiveRooms() []models.Room {
	return m.filter(func(r *models.Room) bool { return r.State == models.RoomActive })
}

// GetRoomsForPlayer lists every room whose roster contains playerID.
func (m *Manager) GetRoomsForPlayer(playerID string) []models.Room {
	return m.filter(func(r *models.Room) bool { return r.HasPlayer(playerID) })
}

// RoomCount returns the number of live rooms in any state.
func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

func (m *Manager) filter(keep func(*models.Room) bool) []models.Room {
	m.mu.RLock()
	out := make([]models.Room, 0)
	for _, r := range m.rooms {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RoomID < out[j].RoomID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// UpdateGameState merges patch into the room's game state, last write wins.
// Unknown rooms are ignored.
func (m *Manager) UpdateGameState(roomID string, patch map[string]any) {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return
	}
	for k, v := range patch {
		room.GameState[k] = v
	}
	state := room.Clone().GameState
	m.mu.Unlock()

	m.broadcast(roomID, models.EventGameState, map[string]any{"roomId": roomID, "gameState": state})
}

// release clears the session binding if it still points at roomID.
func (m *Manager) release(socketID, roomID string) {
	if m.binder == nil {
		return
	}
	if s, ok := m.binder.GetSession(socketID); ok && s.RoomID == roomID {
		m.binder.RemoveRoomAssignment(socketID)
	}
}

func (m *Manager) broadcast(roomID, event string, payload any) {
	if m.broadcaster != nil {
		m.broadcaster.BroadcastToRoom(roomID, event, payload)
	}
}

func (m *Manager) record(kind string, room models.Room) {
	if m.recorder == nil {
		return
	}
	ev := models.RoomEvent{
		RoomID:    room.RoomID,
		Type:      kind,
		GameMode:  room.GameMode,
		Players:   room.Players,
		Timestamp: m.now().UnixMilli(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.recorder.RecordRoomEvent(ctx, ev); err != nil {
			m.logger.WithFields(logrus.Fields{
				"room_id": ev.RoomID,
				"type":    ev.Type,
				"error":   err,
			}).Warn("Failed to record room event")
		}
	}()
}
