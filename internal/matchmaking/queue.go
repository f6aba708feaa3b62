// internal/matchmaking/queue.go
package matchmaking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/arena/internal/models"
	"github.com/jason-s-yu/arena/internal/room"
	"github.com/sirupsen/logrus"
)

var (
	// ErrSessionNotFound means the caller enqueued a socket the registry has never seen.
	ErrSessionNotFound = errors.New("player session not found")
	// ErrMatchInProgress means the socket is part of a match attempt that has not finished.
	ErrMatchInProgress = errors.New("match attempt in progress")
	// ErrAlreadyInRoom means the socket must leave its room before queueing.
	ErrAlreadyInRoom = errors.New("already in a room")
)

// Requester is the connection asking to be matched.
type Requester interface {
	ID() string
	Emit(event string, payload any)
}

// Sessions is the view of the connection registry the queue needs.
type Sessions interface {
	GetSession(socketID string) (models.Session, bool)
	AssignRoom(socketID, roomID string)
}

// Rooms is the view of the room manager the queue needs.
type Rooms interface {
	CreateRoom(roomID string, opts room.CreateOptions) (models.Room, error)
	RemovePlayer(roomID, playerID string) bool
}

// Options tunes the queue loop.
type Options struct {
	TickInterval time.Duration // how often ProcessQueue runs; 1s when zero
	MatchTimeout time.Duration // bound on one strategy attempt; 5s when zero
}

type entry struct {
	req  models.MatchmakingRequest
	conn Requester
}

// Queue holds pending match requests and turns compatible groups into rooms.
type Queue struct {
	mu       sync.Mutex
	pending  []*entry
	inFlight map[string]*entry // requestID -> entry inside a running attempt
	canceled map[string]bool   // in-flight requests dequeued before the attempt finished

	sessions Sessions
	rooms    Rooms
	strategy Strategy
	recorder room.Recorder
	logger   *logrus.Logger

	tick    time.Duration
	timeout time.Duration
	now     func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	loop      sync.WaitGroup
	attempts  sync.WaitGroup
}

// NewQueue wires a queue to its collaborators. A nil strategy matches pairs FIFO.
func NewQueue(logger *logrus.Logger, sessions Sessions, rooms Rooms, strategy Strategy, opts Options) *Queue {
	if strategy == nil {
		strategy = FIFOStrategy{Size: 2}
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.MatchTimeout <= 0 {
		opts.MatchTimeout = 5 * time.Second
	}
	return &Queue{
		inFlight: make(map[string]*entry),
		canceled: make(map[string]bool),
		sessions: sessions,
		rooms:    rooms,
		strategy: strategy,
		logger:   logger,
		tick:     opts.TickInterval,
		timeout:  opts.MatchTimeout,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// SetRecorder attaches a recorder for match_created events.
func (q *Queue) SetRecorder(r room.Recorder) {
	q.recorder = r
}

// Start runs ProcessQueue every tick until Stop. Further calls are no-ops.
func (q *Queue) Start() {
	q.startOnce.Do(func() {
		q.loop.Add(1)
		go func() {
			defer q.loop.Done()
			ticker := time.NewTicker(q.tick)
			defer ticker.Stop()
			for {
				select {
				case <-q.stop:
					return
				case <-ticker.C:
					q.ProcessQueue()
				}
			}
		}()
	})
}

// Stop halts the tick. It is safe to call more than once and before Start.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stop)
	})
}

// Wait blocks until the loop has exited and every dispatched attempt has finished.
func (q *Queue) Wait() {
	q.loop.Wait()
	q.attempts.Wait()
}

// EnqueuePlayer queues conn with the given preferences and emits
// matchmaking_queued to it. A socket already waiting is replaced by the new
// request, which goes to the back of the queue.
func (q *Queue) EnqueuePlayer(conn Requester, prefs models.Preferences) (string, error) {
	socketID := conn.ID()
	sess, ok := q.sessions.GetSession(socketID)
	if !ok {
		return "", ErrSessionNotFound
	}
	if sess.InRoom() {
		return "", ErrAlreadyInRoom
	}

	q.mu.Lock()
	if q.activeAttemptLocked(socketID) != nil {
		q.mu.Unlock()
		return "", ErrMatchInProgress
	}
	replaced := q.removePendingLocked(socketID)
	req := models.MatchmakingRequest{
		RequestID:   "req_" + uuid.NewString(),
		PlayerID:    sess.PlayerID,
		SocketID:    socketID,
		Preferences: prefs,
		QueuedAt:    q.now(),
	}
	q.pending = append(q.pending, &entry{req: req, conn: conn})
	wait := q.estimateLocked()
	length := len(q.pending)
	q.mu.Unlock()

	q.logger.WithFields(logrus.Fields{
		"socket_id":  socketID,
		"player_id":  sess.PlayerID,
		"request_id": req.RequestID,
		"group":      prefs.GroupKey(),
		"queue_len":  length,
		"replaced":   replaced,
	}).Info("Player queued for matchmaking")

	conn.Emit(models.EventMatchmakingQueued, models.MatchmakingQueued{
		RequestID:     req.RequestID,
		EstimatedWait: wait.Milliseconds(),
	})
	return req.RequestID, nil
}

// DequeuePlayer withdraws the socket's request. A request already inside a
// match attempt is marked so the attempt drops it.
func (q *Queue) DequeuePlayer(socketID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.removePendingLocked(socketID) {
		return true
	}
	if e := q.activeAttemptLocked(socketID); e != nil {
		q.canceled[e.req.RequestID] = true
		return true
	}
	return false
}

// activeAttemptLocked returns the socket's in-flight request that has not been
// withdrawn. A socket can have at most one.
func (q *Queue) activeAttemptLocked(socketID string) *entry {
	for id, e := range q.inFlight {
		if e.req.SocketID == socketID && !q.canceled[id] {
			return e
		}
	}
	return nil
}

// GetQueueLength returns the number of requests waiting for the next tick.
func (q *Queue) GetQueueLength() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// GetQueueStatus returns the pending request for the socket, if any.
func (q *Queue) GetQueueStatus(socketID string) (models.MatchmakingRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.pending {
		if e.req.SocketID == socketID {
			return e.req, true
		}
	}
	return models.MatchmakingRequest{}, false
}

// EstimateWaitTime derives the expected wait from the current queue length.
func (q *Queue) EstimateWaitTime() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.estimateLocked()
}

// estimateLocked is one tick per full group ahead of the caller, plus the next tick.
func (q *Queue) estimateLocked() time.Duration {
	size := q.strategy.GroupSize()
	if size < 1 {
		size = 1
	}
	return time.Duration(len(q.pending)/size+1) * q.tick
}

// ProcessQueue groups pending requests and dispatches every full batch to the
// strategy. Batches leave the queue before dispatch and come back if the
// attempt fails. It returns the number of batches dispatched.
func (q *Queue) ProcessQueue() int {
	size := q.strategy.GroupSize()
	if size < 1 {
		size = 1
	}

	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return 0
	}
	byRequest := make(map[string]*entry, len(q.pending))
	reqs := make([]models.MatchmakingRequest, 0, len(q.pending))
	for _, e := range q.pending {
		byRequest[e.req.RequestID] = e
		reqs = append(reqs, e.req)
	}

	var batches [][]*entry
	taken := make(map[string]bool)
	for _, g := range GroupByGameMode(reqs) {
		for len(g.Requests) >= size {
			batch := make([]*entry, 0, size)
			for _, r := range g.Requests[:size] {
				e := byRequest[r.RequestID]
				batch = append(batch, e)
				taken[r.RequestID] = true
				q.inFlight[r.RequestID] = e
			}
			batches = append(batches, batch)
			g.Requests = g.Requests[size:]
		}
	}
	if len(batches) > 0 {
		kept := q.pending[:0]
		for _, e := range q.pending {
			if !taken[e.req.RequestID] {
				kept = append(kept, e)
			}
		}
		for i := len(kept); i < len(q.pending); i++ {
			q.pending[i] = nil
		}
		q.pending = kept
	}
	q.mu.Unlock()

	for _, batch := range batches {
		q.attempts.Add(1)
		go func(batch []*entry) {
			defer q.attempts.Done()
			q.attempt(batch)
		}(batch)
	}
	return len(batches)
}

type attemptResult struct {
	matched []models.MatchmakingRequest
	err     error
}

// attempt runs the strategy for one batch under the match timeout.
func (q *Queue) attempt(batch []*entry) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	candidates := make([]models.MatchmakingRequest, len(batch))
	for i, e := range batch {
		candidates[i] = e.req
	}

	done := make(chan attemptResult, 1)
	go func() {
		matched, err := q.strategy.AttemptMatch(ctx, candidates)
		done <- attemptResult{matched, err}
	}()

	var res attemptResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}

	log := q.logger.WithField("group", candidates[0].Preferences.GroupKey())
	if res.err != nil {
		log.WithError(res.err).Warn("Match attempt failed, re-queueing group")
		q.requeue(batch)
		return
	}

	chosen := make(map[string]bool, len(res.matched))
	for _, r := range res.matched {
		chosen[r.SocketID] = true
	}
	var matched, rest []*entry
	for _, e := range batch {
		if chosen[e.req.SocketID] {
			matched = append(matched, e)
		} else {
			rest = append(rest, e)
		}
	}
	if len(matched) == 0 {
		log.Debug("Strategy declined group, re-queueing")
		q.requeue(batch)
		return
	}
	q.requeue(rest)
	q.createMatch(matched)
}

// requeue returns entries to the pending queue in queuedAt order, dropping
// requests that were withdrawn and sockets that disconnected or joined a room
// meanwhile.
func (q *Queue) requeue(entries []*entry) {
	if len(entries) == 0 {
		return
	}
	live := make([]*entry, 0, len(entries))
	for _, e := range entries {
		if q.matchable(e) {
			live = append(live, e)
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range live {
		if q.canceled[e.req.RequestID] || q.hasPendingLocked(e.req.SocketID) {
			continue
		}
		q.pending = append(q.pending, e)
	}
	for _, e := range entries {
		delete(q.inFlight, e.req.RequestID)
		delete(q.canceled, e.req.RequestID)
	}
	sort.SliceStable(q.pending, func(i, j int) bool {
		return q.pending[i].req.QueuedAt.Before(q.pending[j].req.QueuedAt)
	})
}

// createMatch opens a room for the matched requests, binds every session to it
// and tells each socket about the match. Requests whose socket went away are
// dropped, as are sockets that joined a room meanwhile; if that leaves fewer
// than a full group the survivors are re-queued.
func (q *Queue) createMatch(batch []*entry) {
	q.mu.Lock()
	var live, gone []*entry
	for _, e := range batch {
		if q.canceled[e.req.RequestID] {
			gone = append(gone, e)
			continue
		}
		live = append(live, e)
	}
	q.mu.Unlock()

	kept := live[:0]
	for _, e := range live {
		if q.matchable(e) {
			kept = append(kept, e)
		} else {
			gone = append(gone, e)
		}
	}
	live = kept

	if len(live) < q.strategy.GroupSize() {
		q.requeue(append(live, gone...))
		return
	}
	q.release(gone)

	players := make([]models.RoomPlayer, len(live))
	for i, e := range live {
		players[i] = models.RoomPlayer{PlayerID: e.req.PlayerID, SocketID: e.req.SocketID}
	}
	roomID := "match_" + uuid.NewString()
	gameMode := live[0].req.Preferences.GameMode

	created, err := q.rooms.CreateRoom(roomID, room.CreateOptions{
		GameMode:   gameMode,
		MaxPlayers: len(players),
		Players:    players,
	})
	if err != nil {
		q.logger.WithError(err).WithField("room_id", roomID).Error("Failed to create match room, re-queueing")
		q.requeue(live)
		return
	}

	found := models.MatchFound{RoomID: created.RoomID, GameMode: gameMode, Players: players}
	for _, e := range live {
		q.sessions.AssignRoom(e.req.SocketID, created.RoomID)
		e.conn.Emit(models.EventMatchFound, found)
	}
	q.release(live)

	// A socket that disconnected after the check above has already run its
	// disconnect hook without a room binding.
	for _, e := range live {
		if _, ok := q.sessions.GetSession(e.req.SocketID); !ok {
			q.rooms.RemovePlayer(created.RoomID, e.req.PlayerID)
		}
	}

	q.logger.WithFields(logrus.Fields{
		"room_id":   created.RoomID,
		"game_mode": gameMode,
		"players":   len(players),
	}).Info("Match created")
	q.record(created)
}

// release clears in-flight bookkeeping for entries that leave the queue for good.
func (q *Queue) release(entries []*entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range entries {
		delete(q.inFlight, e.req.RequestID)
		delete(q.canceled, e.req.RequestID)
	}
}

// matchable reports whether the socket behind e is still connected and not
// already bound to a room.
func (q *Queue) matchable(e *entry) bool {
	sess, ok := q.sessions.GetSession(e.req.SocketID)
	return ok && !sess.InRoom()
}

func (q *Queue) hasPendingLocked(socketID string) bool {
	for _, e := range q.pending {
		if e.req.SocketID == socketID {
			return true
		}
	}
	return false
}

func (q *Queue) removePendingLocked(socketID string) bool {
	for i, e := range q.pending {
		if e.req.SocketID == socketID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (q *Queue) record(r models.Room) {
	if q.recorder == nil {
		return
	}
	ev := models.RoomEvent{
		RoomID:    r.RoomID,
		Type:      models.RoomEventMatched,
		GameMode:  r.GameMode,
		Players:   r.Players,
		Timestamp: q.now().UnixMilli(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := q.recorder.RecordRoomEvent(ctx, ev); err != nil {
			q.logger.WithError(err).WithField("room_id", ev.RoomID).Warn("Failed to record match")
		}
	}()
}
