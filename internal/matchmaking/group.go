// internal/matchmaking/group.go
package matchmaking

import "github.com/jason-s-yu/arena/internal/models"

// Group is a set of compatible requests sharing one preference key.
type Group struct {
	Key      string
	Requests []models.MatchmakingRequest
}

// GroupByGameMode buckets requests by gameMode and region. Groups come back in
// order of first appearance and each keeps the relative order of its requests,
// so the same input always yields the same grouping.
func GroupByGameMode(requests []models.MatchmakingRequest) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, r := range requests {
		key := r.Preferences.GroupKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key})
		}
		groups[i].Requests = append(groups[i].Requests, r)
	}
	return groups
}
