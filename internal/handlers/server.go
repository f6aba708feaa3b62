// internal/handlers/server.go
package handlers

import (
	"encoding/json"
	"time"

	"github.com/jason-s-yu/arena/internal/matchmaking"
	"github.com/jason-s-yu/arena/internal/models"
	"github.com/jason-s-yu/arena/internal/room"
	"github.com/jason-s-yu/arena/internal/session"
	"github.com/sirupsen/logrus"
)

// Inbound message types.
const (
	MsgMatchmakingJoin   = "matchmaking_join"
	MsgMatchmakingLeave  = "matchmaking_leave"
	MsgMatchmakingStatus = "matchmaking_status"
	MsgRoomJoin          = "room_join"
	MsgRoomLeave         = "room_leave"
	MsgRoomPause         = "room_pause"
	MsgRoomResume        = "room_resume"
	MsgRoomEnd           = "room_end"
	MsgGameState         = "game_state"
	MsgPing              = "ping"
)

// Options sizes the realtime core.
type Options struct {
	RoomMaxPlayers int
	MatchTick      time.Duration
	MatchTimeout   time.Duration
}

// Server wires the registry, room manager and matchmaking queue together and
// dispatches client messages to them.
type Server struct {
	Hub      *Hub
	Registry *session.Registry
	Rooms    *room.Manager
	Queue    *matchmaking.Queue

	logger *logrus.Logger
}

// NewServer builds the core. initializer and strategy may be nil.
func NewServer(logger *logrus.Logger, verifier session.TokenVerifier, initializer session.PlayerInitializer, strategy matchmaking.Strategy, opts Options) *Server {
	hub := NewHub(logger)
	registry := session.NewRegistry(logger, verifier, hub, initializer)
	hub.SetMembership(registry)

	rooms := room.NewManager(logger, hub, registry)
	rooms.SetDefaultMaxPlayers(opts.RoomMaxPlayers)

	queue := matchmaking.NewQueue(logger, registry, rooms, strategy, matchmaking.Options{
		TickInterval: opts.MatchTick,
		MatchTimeout: opts.MatchTimeout,
	})

	s := &Server{
		Hub:      hub,
		Registry: registry,
		Rooms:    rooms,
		Queue:    queue,
		logger:   logger,
	}
	registry.OnDisconnect(s.cleanupSession)
	return s
}

// SetRecorder sends room and match lifecycle records to r.
func (s *Server) SetRecorder(r room.Recorder) {
	s.Rooms.SetRecorder(r)
	s.Queue.SetRecorder(r)
}

// Start begins the matchmaking tick.
func (s *Server) Start() {
	s.Queue.Start()
}

// Shutdown stops matchmaking and disconnects every client.
func (s *Server) Shutdown() {
	s.Queue.Stop()
	s.Hub.CloseAll()
	s.Queue.Wait()
}

// cleanupSession drops every queue and room reference to a closed session.
func (s *Server) cleanupSession(sess models.Session) {
	if s.Queue.DequeuePlayer(sess.SocketID) {
		s.logger.WithField("socket_id", sess.SocketID).Debug("Dequeued disconnected player")
	}
	if sess.RoomID != "" {
		s.Rooms.RemovePlayer(sess.RoomID, sess.PlayerID)
	}
}

// Connect registers a new client with the hub and the registry.
func (s *Server) Connect(c *Client) models.Session {
	s.Hub.Register(c)
	c.OnClose(func() { s.Hub.Unregister(c.ID()) })
	return s.Registry.HandleConnection(c)
}

type errorPayload struct {
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
}

type roomRequest struct {
	RoomID string `json:"roomId"`
}

type gameStateRequest struct {
	RoomID string         `json:"roomId"`
	Patch  map[string]any `json:"patch"`
}

type queueStatus struct {
	Queued        bool                       `json:"queued"`
	Request       *models.MatchmakingRequest `json:"request,omitempty"`
	EstimatedWait int64                      `json:"estimatedWait"`
}

// Dispatch handles one inbound message from c.
func (s *Server) Dispatch(c *Client, msg models.Message) {
	s.Registry.Touch(c.ID())
	sess, ok := s.Registry.GetSession(c.ID())
	if !ok {
		s.logger.WithField("socket_id", c.ID()).Debug("Message from unregistered socket ignored")
		return
	}

	switch msg.Type {
	case MsgPing:
		c.Emit(models.EventPong, map[string]int64{"serverTime": time.Now().UnixMilli()})

	case MsgMatchmakingJoin:
		var prefs models.Preferences
		if err := decodePayload(msg.Payload, &prefs); err != nil || prefs.GameMode == "" {
			c.Emit(models.EventMatchmakingError, errorPayload{Message: "gameMode is required"})
			return
		}
		if _, err := s.Queue.EnqueuePlayer(c, prefs); err != nil {
			c.Emit(models.EventMatchmakingError, errorPayload{Message: err.Error()})
		}

	case MsgMatchmakingLeave:
		removed := s.Queue.DequeuePlayer(c.ID())
		c.Emit(models.EventMatchmakingLeft, map[string]bool{"removed": removed})

	case MsgMatchmakingStatus:
		status := queueStatus{EstimatedWait: s.Queue.EstimateWaitTime().Milliseconds()}
		if req, queued := s.Queue.GetQueueStatus(c.ID()); queued {
			status.Queued = true
			status.Request = &req
		}
		c.Emit(models.EventMatchmakingStatus, status)

	case MsgRoomJoin:
		var req roomRequest
		if err := decodePayload(msg.Payload, &req); err != nil || req.RoomID == "" {
			s.fail(c, msg.Type, "roomId is required")
			return
		}
		if sess.InRoom() {
			s.fail(c, msg.Type, "already in a room")
			return
		}
		// Joining by hand withdraws any pending match request.
		s.Queue.DequeuePlayer(c.ID())
		if !s.Rooms.AddPlayer(req.RoomID, sess.PlayerID, c.ID()) {
			s.fail(c, msg.Type, "unable to join room")
		}

	case MsgRoomLeave:
		roomID := s.targetRoom(msg.Payload, sess)
		if roomID == "" || !s.Rooms.RemovePlayer(roomID, sess.PlayerID) {
			s.fail(c, msg.Type, "not in room")
			return
		}
		left := models.PlayerLeft{PlayerID: sess.PlayerID, SocketID: c.ID()}
		s.Hub.BroadcastToRoom(roomID, models.EventPlayerLeft, left)
		c.Emit(models.EventPlayerLeft, left)

	case MsgRoomPause, MsgRoomResume, MsgRoomEnd:
		roomID := s.targetRoom(msg.Payload, sess)
		if !s.isMember(roomID, sess.PlayerID) {
			s.fail(c, msg.Type, "not in room")
			return
		}
		var done bool
		switch msg.Type {
		case MsgRoomPause:
			done = s.Rooms.PauseRoom(roomID)
		case MsgRoomResume:
			done = s.Rooms.ResumeRoom(roomID)
		default:
			done = s.Rooms.EndRoom(roomID)
		}
		if !done {
			s.fail(c, msg.Type, "room is not in a state that allows this")
		}

	case MsgGameState:
		var req gameStateRequest
		if err := decodePayload(msg.Payload, &req); err != nil || req.Patch == nil {
			s.fail(c, msg.Type, "patch is required")
			return
		}
		roomID := req.RoomID
		if roomID == "" {
			roomID = sess.RoomID
		}
		if !s.isMember(roomID, sess.PlayerID) {
			s.fail(c, msg.Type, "not in room")
			return
		}
		s.Rooms.UpdateGameState(roomID, req.Patch)

	default:
		s.fail(c, msg.Type, "unknown message type")
	}
}

func (s *Server) fail(c *Client, action, message string) {
	s.logger.WithFields(logrus.Fields{
		"socket_id": c.ID(),
		"action":    action,
	}).Debug(message)
	c.Emit(models.EventError, errorPayload{Message: message, Action: action})
}

// targetRoom is the roomId named in the payload, else the session's room.
func (s *Server) targetRoom(payload json.RawMessage, sess models.Session) string {
	var req roomRequest
	if err := decodePayload(payload, &req); err == nil && req.RoomID != "" {
		return req.RoomID
	}
	return sess.RoomID
}

func (s *Server) isMember(roomID, playerID string) bool {
	if roomID == "" {
		return false
	}
	r, ok := s.Rooms.GetRoom(roomID)
	return ok && r.HasPlayer(playerID)
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
