// internal/matchmaking/strategy.go
package matchmaking

import (
	"context"

	"github.com/jason-s-yu/arena/internal/models"
)

// Strategy decides which requests of a compatible group form a match.
// Implementations may block, call out to another process, or fail; the queue
// bounds every attempt with a timeout and re-queues the group on error.
type Strategy interface {
	// GroupSize is the minimum number of compatible requests worth attempting.
	GroupSize() int
	// AttemptMatch returns the subset of candidates placed into one match.
	// An empty result with a nil error means "not this time".
	AttemptMatch(ctx context.Context, candidates []models.MatchmakingRequest) ([]models.MatchmakingRequest, error)
}

// FIFOStrategy matches the oldest Size requests of a group.
type FIFOStrategy struct {
	Size int
}

func (s FIFOStrategy) GroupSize() int {
	if s.Size < 1 {
		return 2
	}
	return s.Size
}

func (s FIFOStrategy) AttemptMatch(ctx context.Context, candidates []models.MatchmakingRequest) ([]models.MatchmakingRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := s.GroupSize()
	if len(candidates) < n {
		return nil, nil
	}
	return append([]models.MatchmakingRequest(nil), candidates[:n]...), nil
}
