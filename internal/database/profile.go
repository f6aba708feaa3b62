// internal/database/profile.go
package database

import (
	"context"
	"fmt"
)

// ProfileStore persists per-player records for authenticated players.
type ProfileStore struct {
	db Execer
}

func NewProfileStore(db Execer) *ProfileStore {
	return &ProfileStore{db: db}
}

// InitializePlayer creates the player's profile on first login and bumps
// last_login on every later one.
func (s *ProfileStore) InitializePlayer(ctx context.Context, playerID string) error {
	q := `
		INSERT INTO player_profiles (player_id, last_login)
		VALUES ($1, NOW())
		ON CONFLICT (player_id)
		DO UPDATE SET last_login = NOW()
	`
	if _, err := s.db.Exec(ctx, q, playerID); err != nil {
		return fmt.Errorf("failed to initialize player %s: %w", playerID, err)
	}
	return nil
}
