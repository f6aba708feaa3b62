// internal/session/registry.go
package session

import (
	"context"
	"sync"
	"time"

	"github.com/jason-s-yu/arena/internal/models"
	"github.com/sirupsen/logrus"
)

// Conn is the transport-level connection handed to the registry. Transports
// implement it so the registry never depends on a socket library.
type Conn interface {
	ID() string
	AuthToken() string
	Emit(event string, payload any)
	// OnClose registers fn to run once when the transport closes.
	OnClose(fn func())
}

// TokenVerifier resolves a bearer token into a player id.
type TokenVerifier interface {
	Configured() bool
	Verify(token string) (string, error)
}

// Broadcaster delivers an event to every member of a room.
type Broadcaster interface {
	BroadcastToRoom(roomID, event string, payload any)
}

// PlayerInitializer is invoked once per authenticated connection.
type PlayerInitializer interface {
	InitializePlayer(ctx context.Context, playerID string) error
}

// DisconnectHook runs after a session is removed, outside the registry lock.
type DisconnectHook func(s models.Session)

const initTimeout = 5 * time.Second

// Registry owns the set of live sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session

	verifier    TokenVerifier
	broadcaster Broadcaster
	initializer PlayerInitializer
	hooks       []DisconnectHook
	logger      *logrus.Logger
	now         func() time.Time
}

// NewRegistry builds an empty registry. initializer may be nil.
func NewRegistry(logger *logrus.Logger, verifier TokenVerifier, broadcaster Broadcaster, initializer PlayerInitializer) *Registry {
	return &Registry{
		sessions:    make(map[string]*models.Session),
		verifier:    verifier,
		broadcaster: broadcaster,
		initializer: initializer,
		logger:      logger,
		now:         time.Now,
	}
}

// OnDisconnect adds a hook run for every session removed by HandleDisconnection.
// Hooks must be registered before connections are served.
func (r *Registry) OnDisconnect(hook DisconnectHook) {
	r.hooks = append(r.hooks, hook)
}

// HandleConnection authenticates conn, registers its session, wires the
// disconnect handler and acknowledges the client. Authentication failures
// degrade to a guest session and are never returned. A session already
// registered under the same socket id is disconnected first, and its close
// handler no longer affects the new session.
func (r *Registry) HandleConnection(conn Conn) models.Session {
	socketID := conn.ID()
	playerID, authenticated := r.authenticate(socketID, conn.AuthToken())

	now := r.now()
	s := &models.Session{
		SocketID:     socketID,
		PlayerID:     playerID,
		ConnectedAt:  now,
		LastActivity: now,
		Guest:        !authenticated,
	}

	r.mu.Lock()
	prev := r.sessions[socketID]
	r.sessions[socketID] = s
	snapshot := *s
	r.mu.Unlock()

	if prev != nil {
		r.logger.Warnf("Replacing existing session for socket %s", socketID)
		r.notifyDisconnect(*prev)
	}

	conn.OnClose(func() {
		r.disconnect(socketID, s)
	})

	r.logger.WithFields(logrus.Fields{
		"socket_id": socketID,
		"player_id": playerID,
		"guest":     !authenticated,
	}).Info("Client connected")

	if authenticated && r.initializer != nil {
		go r.initializePlayer(playerID)
	}

	conn.Emit(models.EventConnectionAck, models.ConnectionAck{
		SessionID:  socketID,
		PlayerID:   playerID,
		ServerTime: now.UnixMilli(),
	})

	return snapshot
}

// authenticate returns the verified identity, or the guest identity if the
// token is absent, no secret is configured, or verification fails.
func (r *Registry) authenticate(socketID, token string) (string, bool) {
	if token == "" || r.verifier == nil || !r.verifier.Configured() {
		return models.GuestPlayerID(socketID), false
	}
	playerID, err := r.verifier.Verify(token)
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"socket_id": socketID,
			"error":     err,
		}).Warn("Token verification failed, using guest session")
		return models.GuestPlayerID(socketID), false
	}
	return playerID, true
}

func (r *Registry) initializePlayer(playerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := r.initializer.InitializePlayer(ctx, playerID); err != nil {
		r.logger.WithFields(logrus.Fields{
			"player_id": playerID,
			"error":     err,
		}).Error("Failed to initialize player")
	}
}

// HandleDisconnection notifies the session's room, drops the session and runs
// the disconnect hooks. Unknown sockets are logged and ignored.
func (r *Registry) HandleDisconnection(socketID string) {
	r.disconnect(socketID, nil)
}

// disconnect removes the session for socketID. A non-nil expected limits it to
// that exact session, so a stale close handler cannot drop a replacement.
func (r *Registry) disconnect(socketID string, expected *models.Session) {
	r.mu.Lock()
	s, ok := r.sessions[socketID]
	if ok && (expected == nil || s == expected) {
		delete(r.sessions, socketID)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Debugf("Disconnect for unknown socket %s", socketID)
		return
	}
	r.logger.Infof("Client disconnected: %s", socketID)
	r.notifyDisconnect(*s)
}

// notifyDisconnect tells the session's room and runs the hooks.
func (r *Registry) notifyDisconnect(snapshot models.Session) {
	if snapshot.InRoom() && r.broadcaster != nil {
		r.broadcaster.BroadcastToRoom(snapshot.RoomID, models.EventPlayerLeft, models.PlayerLeft{
			PlayerID: snapshot.PlayerID,
			SocketID: snapshot.SocketID,
		})
	}

	for _, hook := range r.hooks {
		hook(snapshot)
	}
}

// GetSession returns a copy of the session for socketID.
func (r *Registry) GetSession(socketID string) (models.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[socketID]
	if !ok {
		return models.Session{}, false
	}
	return *s, true
}

// GetSessionsInRoom returns every session bound to roomID, never nil.
// The empty room id matches nothing.
func (r *Registry) GetSessionsInRoom(roomID string) []models.Session {
	out := make([]models.Session, 0)
	if roomID == "" {
		return out
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.RoomID == roomID {
			out = append(out, *s)
		}
	}
	return out
}

// AssignRoom binds socketID to roomID. Unknown sockets are a no-op.
func (r *Registry) AssignRoom(socketID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[socketID]; ok {
		s.RoomID = roomID
		s.LastActivity = r.now()
	}
}

// RemoveRoomAssignment clears the room binding. Unknown sockets are a no-op.
func (r *Registry) RemoveRoomAssignment(socketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[socketID]; ok {
		s.RoomID = ""
		s.LastActivity = r.now()
	}
}

// Touch records activity on socketID.
func (r *Registry) Touch(socketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[socketID]; ok {
		s.LastActivity = r.now()
	}
}

// GetConnectedCount returns the number of live sessions.
func (r *Registry) GetConnectedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
