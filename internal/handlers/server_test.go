package handlers

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jason-s-yu/arena/internal/auth"
	"github.com/jason-s-yu/arena/internal/matchmaking"
	"github.com/jason-s-yu/arena/internal/models"
	"github.com/jason-s-yu/arena/internal/room"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger, _ := test.NewNullLogger()
	srv := NewServer(logger, auth.NewVerifier("test-secret"), nil, matchmaking.FIFOStrategy{Size: 2}, Options{
		RoomMaxPlayers: 4,
		MatchTick:      10 * time.Millisecond,
	})
	t.Cleanup(srv.Shutdown)
	return srv
}

func connect(t *testing.T, srv *Server, id string) *Client {
	t.Helper()
	logger, _ := test.NewNullLogger()
	c := NewClient(logger, id, "", "127.0.0.1:1")
	srv.Connect(c)
	return c
}

// drain returns every frame queued on the client so far.
func drain(t *testing.T, c *Client) []models.Message {
	t.Helper()
	var out []models.Message
	for {
		select {
		case data := <-c.Outbound():
			var msg models.Message
			require.NoError(t, json.Unmarshal(data, &msg))
			out = append(out, msg)
		default:
			return out
		}
	}
}

func find(msgs []models.Message, event string) (models.Message, bool) {
	for _, m := range msgs {
		if m.Type == event {
			return m, true
		}
	}
	return models.Message{}, false
}

func send(t *testing.T, srv *Server, c *Client, typ string, payload any) {
	t.Helper()
	msg, err := models.NewMessage(typ, payload)
	require.NoError(t, err)
	srv.Dispatch(c, msg)
}

func TestConnectAcknowledgesGuest(t *testing.T) {
	srv := newTestServer(t)
	c := connect(t, srv, "socket-1")

	ack, ok := find(drain(t, c), models.EventConnectionAck)
	require.True(t, ok)
	var payload models.ConnectionAck
	require.NoError(t, json.Unmarshal(ack.Payload, &payload))
	assert.Equal(t, "guest_socket-1", payload.PlayerID)
	assert.Equal(t, 1, srv.Hub.Count())
	assert.Equal(t, 1, srv.Registry.GetConnectedCount())
}

func TestConnectWithToken(t *testing.T) {
	srv := newTestServer(t)
	token, err := auth.NewVerifier("test-secret").Sign("alice", time.Minute)
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	c := NewClient(logger, "socket-1", token, "")
	sess := srv.Connect(c)
	assert.Equal(t, "alice", sess.PlayerID)
}

func TestPing(t *testing.T) {
	srv := newTestServer(t)
	c := connect(t, srv, "s1")
	drain(t, c)

	send(t, srv, c, MsgPing, nil)
	pong, ok := find(drain(t, c), models.EventPong)
	require.True(t, ok)
	assert.Contains(t, string(pong.Payload), "serverTime")
}

func TestMatchmakingFlow(t *testing.T) {
	srv := newTestServer(t)
	a := connect(t, srv, "a")
	b := connect(t, srv, "b")
	drain(t, a)
	drain(t, b)

	send(t, srv, a, MsgMatchmakingJoin, models.Preferences{GameMode: "deathmatch"})
	_, ok := find(drain(t, a), models.EventMatchmakingQueued)
	require.True(t, ok)

	send(t, srv, a, MsgMatchmakingStatus, nil)
	statusMsg, ok := find(drain(t, a), models.EventMatchmakingStatus)
	require.True(t, ok)
	var status queueStatus
	require.NoError(t, json.Unmarshal(statusMsg.Payload, &status))
	assert.True(t, status.Queued)
	assert.Equal(t, "guest_a", status.Request.PlayerID)

	send(t, srv, b, MsgMatchmakingJoin, models.Preferences{GameMode: "deathmatch"})
	require.Equal(t, 1, srv.Queue.ProcessQueue())

	srv.Queue.Wait()

	sa, _ := srv.Registry.GetSession("a")
	sb, _ := srv.Registry.GetSession("b")
	assert.Equal(t, sa.RoomID, sb.RoomID)

	r, ok := srv.Rooms.GetRoom(sa.RoomID)
	require.True(t, ok)
	assert.Equal(t, "deathmatch", r.GameMode)
	assert.Len(t, r.Players, 2)

	msgs := drain(t, a)
	_, ok = find(msgs, models.EventMatchFound)
	assert.True(t, ok)
	_, ok = find(msgs, models.EventRoomCreated)
	assert.True(t, ok, "room members receive room_created")
}

func TestMatchmakingJoinRequiresGameMode(t *testing.T) {
	srv := newTestServer(t)
	c := connect(t, srv, "s1")
	drain(t, c)

	send(t, srv, c, MsgMatchmakingJoin, map[string]string{})
	_, ok := find(drain(t, c), models.EventMatchmakingError)
	assert.True(t, ok)
	assert.Equal(t, 0, srv.Queue.GetQueueLength())
}

func TestMatchmakingLeave(t *testing.T) {
	srv := newTestServer(t)
	c := connect(t, srv, "s1")
	send(t, srv, c, MsgMatchmakingJoin, models.Preferences{GameMode: "ctf"})
	drain(t, c)

	send(t, srv, c, MsgMatchmakingLeave, nil)
	left, ok := find(drain(t, c), models.EventMatchmakingLeft)
	require.True(t, ok)
	assert.JSONEq(t, `{"removed":true}`, string(left.Payload))
	assert.Equal(t, 0, srv.Queue.GetQueueLength())
}

func TestRoomJoinLeave(t *testing.T) {
	srv := newTestServer(t)
	a := connect(t, srv, "a")
	b := connect(t, srv, "b")
	_, err := srv.Rooms.CreateRoom("room1", room.CreateOptions{GameMode: "coop"})
	require.NoError(t, err)

	send(t, srv, a, MsgRoomJoin, roomRequest{RoomID: "room1"})
	send(t, srv, b, MsgRoomJoin, roomRequest{RoomID: "room1"})
	drain(t, a)
	drain(t, b)

	send(t, srv, b, MsgRoomLeave, nil)
	left, ok := find(drain(t, a), models.EventPlayerLeft)
	require.True(t, ok)
	assert.Contains(t, string(left.Payload), "guest_b")

	sb, _ := srv.Registry.GetSession("b")
	assert.Empty(t, sb.RoomID)
}

func TestRoomJoinUnknownRoom(t *testing.T) {
	srv := newTestServer(t)
	c := connect(t, srv, "s1")
	drain(t, c)

	send(t, srv, c, MsgRoomJoin, roomRequest{RoomID: "missing"})
	msg, ok := find(drain(t, c), models.EventError)
	require.True(t, ok)
	var payload errorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, MsgRoomJoin, payload.Action)
}

func TestRoomStateMessages(t *testing.T) {
	srv := newTestServer(t)
	c := connect(t, srv, "s1")
	_, err := srv.Rooms.CreateRoom("room1", room.CreateOptions{})
	require.NoError(t, err)
	send(t, srv, c, MsgRoomJoin, roomRequest{RoomID: "room1"})
	drain(t, c)

	send(t, srv, c, MsgRoomPause, nil)
	_, ok := find(drain(t, c), models.EventRoomPaused)
	assert.True(t, ok)

	send(t, srv, c, MsgRoomPause, nil)
	_, ok = find(drain(t, c), models.EventError)
	assert.True(t, ok, "pausing twice fails")

	send(t, srv, c, MsgRoomResume, nil)
	_, ok = find(drain(t, c), models.EventRoomResumed)
	assert.True(t, ok)

	send(t, srv, c, MsgGameState, gameStateRequest{Patch: map[string]any{"score": 10}})
	_, ok = find(drain(t, c), models.EventGameState)
	assert.True(t, ok)
	r, _ := srv.Rooms.GetRoom("room1")
	assert.Equal(t, float64(10), r.GameState["score"])

	send(t, srv, c, MsgRoomEnd, nil)
	_, ok = find(drain(t, c), models.EventRoomEnded)
	assert.True(t, ok)
	_, exists := srv.Rooms.GetRoom("room1")
	assert.False(t, exists)
}

func TestRoomOpsRequireMembership(t *testing.T) {
	srv := newTestServer(t)
	c := connect(t, srv, "s1")
	_, err := srv.Rooms.CreateRoom("room1", room.CreateOptions{})
	require.NoError(t, err)
	drain(t, c)

	send(t, srv, c, MsgRoomEnd, roomRequest{RoomID: "room1"})
	_, ok := find(drain(t, c), models.EventError)
	assert.True(t, ok)
	_, exists := srv.Rooms.GetRoom("room1")
	assert.True(t, exists)
}

func TestUnknownMessage(t *testing.T) {
	srv := newTestServer(t)
	c := connect(t, srv, "s1")
	drain(t, c)

	send(t, srv, c, "dance", nil)
	msg, ok := find(drain(t, c), models.EventError)
	require.True(t, ok)
	assert.Contains(t, string(msg.Payload), "unknown message type")
}

func TestDisconnectCleansQueueAndRoom(t *testing.T) {
	srv := newTestServer(t)
	a := connect(t, srv, "a")
	b := connect(t, srv, "b")
	q := connect(t, srv, "q")

	_, err := srv.Rooms.CreateRoom("room1", room.CreateOptions{})
	require.NoError(t, err)
	send(t, srv, a, MsgRoomJoin, roomRequest{RoomID: "room1"})
	send(t, srv, b, MsgRoomJoin, roomRequest{RoomID: "room1"})
	send(t, srv, q, MsgMatchmakingJoin, models.Preferences{GameMode: "ctf"})
	drain(t, a)

	b.Close(nil)
	q.Close(nil)

	msgs := drain(t, a)
	var leaves int
	for _, m := range msgs {
		if m.Type == models.EventPlayerLeft {
			leaves++
		}
	}
	assert.Equal(t, 1, leaves, "exactly one player_left per disconnect")

	r, ok := srv.Rooms.GetRoom("room1")
	require.True(t, ok)
	assert.False(t, r.HasPlayer("guest_b"))
	assert.Equal(t, 0, srv.Queue.GetQueueLength())
	assert.Equal(t, 1, srv.Registry.GetConnectedCount())
	assert.Equal(t, 1, srv.Hub.Count())

	a.Close(nil)
	_, ok = srv.Rooms.GetRoom("room1")
	assert.False(t, ok, "last player leaving destroys the room")
}

func TestRoomJoinWhileInRoom(t *testing.T) {
	srv := newTestServer(t)
	a := connect(t, srv, "a")
	b := connect(t, srv, "b")
	for _, id := range []string{"roomA", "roomB"} {
		_, err := srv.Rooms.CreateRoom(id, room.CreateOptions{})
		require.NoError(t, err)
	}
	send(t, srv, a, MsgRoomJoin, roomRequest{RoomID: "roomA"})
	send(t, srv, b, MsgRoomJoin, roomRequest{RoomID: "roomA"})
	drain(t, a)

	send(t, srv, a, MsgRoomJoin, roomRequest{RoomID: "roomB"})
	msg, ok := find(drain(t, a), models.EventError)
	require.True(t, ok)
	var payload errorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, errorPayload{Message: "already in a room", Action: MsgRoomJoin}, payload)

	rb, ok := srv.Rooms.GetRoom("roomB")
	require.True(t, ok)
	assert.Empty(t, rb.Players)
	sa, _ := srv.Registry.GetSession("a")
	assert.Equal(t, "roomA", sa.RoomID)

	a.Close(nil)
	ra, ok := srv.Rooms.GetRoom("roomA")
	require.True(t, ok)
	assert.Equal(t, []models.RoomPlayer{{PlayerID: "guest_b", SocketID: "b"}}, ra.Players)
	assert.Empty(t, srv.Rooms.GetRoomsForPlayer("guest_a"))
}

func TestMatchmakingJoinWhileInRoom(t *testing.T) {
	srv := newTestServer(t)
	c := connect(t, srv, "s1")
	_, err := srv.Rooms.CreateRoom("room1", room.CreateOptions{})
	require.NoError(t, err)
	send(t, srv, c, MsgRoomJoin, roomRequest{RoomID: "room1"})
	drain(t, c)

	send(t, srv, c, MsgMatchmakingJoin, models.Preferences{GameMode: "ctf"})
	msg, ok := find(drain(t, c), models.EventMatchmakingError)
	require.True(t, ok)
	assert.Contains(t, string(msg.Payload), matchmaking.ErrAlreadyInRoom.Error())
	assert.Equal(t, 0, srv.Queue.GetQueueLength())
}

func TestRoomJoinWithdrawsMatchRequest(t *testing.T) {
	srv := newTestServer(t)
	c := connect(t, srv, "s1")
	_, err := srv.Rooms.CreateRoom("room1", room.CreateOptions{})
	require.NoError(t, err)
	send(t, srv, c, MsgMatchmakingJoin, models.Preferences{GameMode: "ctf"})
	require.Equal(t, 1, srv.Queue.GetQueueLength())

	send(t, srv, c, MsgRoomJoin, roomRequest{RoomID: "room1"})
	assert.Equal(t, 0, srv.Queue.GetQueueLength())
	r, _ := srv.Rooms.GetRoom("room1")
	assert.True(t, r.HasPlayer("guest_s1"))
}
