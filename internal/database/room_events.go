// internal/database/room_events.go
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/arena/internal/models"
)

// RoomEventStore writes room lifecycle records.
type RoomEventStore struct {
	db TxBeginner
}

func NewRoomEventStore(db TxBeginner) *RoomEventStore {
	return &RoomEventStore{db: db}
}

// InsertRoomEvents stores the batch in one transaction; either every record
// lands or none does.
func (s *RoomEventStore) InsertRoomEvents(ctx context.Context, events []models.RoomEvent) error {
	if len(events) == 0 {
		return nil
	}
	return pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, ev := range events {
			if err := insertRoomEventTx(ctx, tx, ev); err != nil {
				return fmt.Errorf("insertRoomEventTx: %w", err)
			}
		}
		return nil
	})
}

func insertRoomEventTx(ctx context.Context, tx Execer, ev models.RoomEvent) error {
	q := `
		INSERT INTO room_events (room_id, event_type, game_mode, players, event_time)
		VALUES ($1, $2, $3, $4, $5)
	`
	players := ev.Players
	if players == nil {
		players = []models.RoomPlayer{}
	}
	data, err := json.Marshal(players)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, q, ev.RoomID, ev.Type, ev.GameMode, data, time.UnixMilli(ev.Timestamp).UTC())
	return err
}
