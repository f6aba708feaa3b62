package database

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jason-s-yu/arena/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	sql  string
	args []any
}

type fakeExecer struct {
	calls []execCall
	err   error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql, args})
	return pgconn.CommandTag{}, f.err
}

func TestInitializePlayer(t *testing.T) {
	db := &fakeExecer{}
	store := NewProfileStore(db)

	require.NoError(t, store.InitializePlayer(context.Background(), "player1"))
	require.Len(t, db.calls, 1)
	assert.Contains(t, db.calls[0].sql, "ON CONFLICT (player_id)")
	assert.Equal(t, []any{"player1"}, db.calls[0].args)
}

func TestInitializePlayerError(t *testing.T) {
	cause := errors.New("connection refused")
	store := NewProfileStore(&fakeExecer{err: cause})

	err := store.InitializePlayer(context.Background(), "player1")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "player1")
}

func TestInsertRoomEventTx(t *testing.T) {
	db := &fakeExecer{}
	ts := time.UnixMilli(1_700_000_000_123)
	ev := models.RoomEvent{
		RoomID:    "room1",
		Type:      models.RoomEventCreated,
		GameMode:  "ctf",
		Players:   []models.RoomPlayer{{PlayerID: "p1", SocketID: "s1"}},
		Timestamp: ts.UnixMilli(),
	}

	require.NoError(t, insertRoomEventTx(context.Background(), db, ev))
	require.Len(t, db.calls, 1)
	args := db.calls[0].args
	assert.Equal(t, "room1", args[0])
	assert.Equal(t, models.RoomEventCreated, args[1])
	assert.JSONEq(t, `[{"playerId":"p1","socketId":"s1"}]`, string(args[3].([]byte)))
	assert.True(t, ts.Equal(args[4].(time.Time)))
}

func TestInsertRoomEventTxNilPlayers(t *testing.T) {
	db := &fakeExecer{}
	require.NoError(t, insertRoomEventTx(context.Background(), db, models.RoomEvent{RoomID: "r", Type: models.RoomEventDestroyed}))
	assert.Equal(t, "[]", string(db.calls[0].args[3].([]byte)))
}

func TestInsertRoomEventsEmptyBatch(t *testing.T) {
	store := NewRoomEventStore(nil)
	assert.NoError(t, store.InsertRoomEvents(context.Background(), nil))
}

func TestPostgresIntegration(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := Connect(ctx, url)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, EnsureSchema(ctx, pool))

	require.NoError(t, NewProfileStore(pool).InitializePlayer(ctx, "integration-player"))
	require.NoError(t, NewProfileStore(pool).InitializePlayer(ctx, "integration-player"))

	err = NewRoomEventStore(pool).InsertRoomEvents(ctx, []models.RoomEvent{
		{RoomID: "integration-room", Type: models.RoomEventCreated, Timestamp: time.Now().UnixMilli()},
		{RoomID: "integration-room", Type: models.RoomEventEnded, Timestamp: time.Now().UnixMilli()},
	})
	require.NoError(t, err)
}
