package handlers

import (
	"testing"

	"github.com/jason-s-yu/arena/internal/models"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

type staticMembership map[string][]models.Session

func (m staticMembership) GetSessionsInRoom(roomID string) []models.Session {
	return m[roomID]
}

func TestHubBroadcastToRoom(t *testing.T) {
	logger, _ := test.NewNullLogger()
	hub := NewHub(logger)
	a := NewClient(logger, "a", "", "")
	b := NewClient(logger, "b", "", "")
	c := NewClient(logger, "c", "", "")
	for _, cl := range []*Client{a, b, c} {
		hub.Register(cl)
	}
	hub.SetMembership(staticMembership{
		"room1": {{SocketID: "a"}, {SocketID: "b"}, {SocketID: "gone"}},
	})

	hub.BroadcastToRoom("room1", models.EventGameState, map[string]int{"tick": 1})

	assert.Len(t, drain(t, a), 1)
	assert.Len(t, drain(t, b), 1)
	assert.Empty(t, drain(t, c))
}

func TestHubWithoutMembership(t *testing.T) {
	logger, _ := test.NewNullLogger()
	hub := NewHub(logger)
	assert.NotPanics(t, func() { hub.BroadcastToRoom("room1", "x", nil) })
	assert.False(t, hub.EmitTo("nobody", "x", nil))
}

func TestClientEmitDropsWhenFull(t *testing.T) {
	logger, hook := test.NewNullLogger()
	c := NewClient(logger, "a", "", "")
	for i := 0; i < outboundBuffer+3; i++ {
		c.Emit(models.EventPong, nil)
	}
	assert.Len(t, drain(t, c), outboundBuffer)
	assert.Equal(t, "Outbound buffer full, dropping message", hook.LastEntry().Message)
}

func TestClientCloseRunsCallbacksOnce(t *testing.T) {
	logger, _ := test.NewNullLogger()
	c := NewClient(logger, "a", "", "")
	calls := 0
	c.OnClose(func() { calls++ })

	c.Close(nil)
	c.Close(nil)
	assert.Equal(t, 1, calls)

	c.OnClose(func() { calls++ })
	assert.Equal(t, 2, calls, "late callbacks run immediately")

	c.Emit(models.EventPong, nil)
	assert.Empty(t, drain(t, c))
}

func TestHubCloseAll(t *testing.T) {
	logger, _ := test.NewNullLogger()
	hub := NewHub(logger)
	a := NewClient(logger, "a", "", "")
	hub.Register(a)
	a.OnClose(func() { hub.Unregister("a") })

	hub.CloseAll()
	assert.Equal(t, 0, hub.Count())
	select {
	case <-a.Done():
	default:
		t.Fatal("client not closed")
	}
}

func TestTokenFromCookie(t *testing.T) {
	assert.Equal(t, "abc", extractCookieToken("theme=dark; auth_token=abc; x=y", AuthCookieName))
	assert.Equal(t, "", extractCookieToken("theme=dark", AuthCookieName))
	assert.Equal(t, "", extractCookieToken("my_auth_token=zzz", AuthCookieName))
}
