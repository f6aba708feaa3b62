// internal/historian/historian.go is an asynchronous consumer that pops room
// events from a queue and persists them to the database in batches.
package historian

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jason-s-yu/arena/internal/models"
	"github.com/sirupsen/logrus"
)

// Source yields queued room events. ok is false when the wait timed out empty.
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) (ev models.RoomEvent, ok bool, err error)
}

// Store persists a batch atomically.
type Store interface {
	InsertRoomEvents(ctx context.Context, events []models.RoomEvent) error
}

// Options tunes batching.
type Options struct {
	BatchSize  int           // flush once this many events are buffered; 20 when zero
	FlushDelay time.Duration // flush at least this often; 500ms when zero
	PopTimeout time.Duration // longest single blocking pop; 3s when zero
	RetryDelay time.Duration // pause after a failed pop; 1s when zero
	MaxPending int           // buffered events kept while the store is down; 100*BatchSize when zero
}

// Service drains a Source into a Store.
type Service struct {
	source Source
	store  Store
	logger *logrus.Logger

	batchSize  int
	flushDelay time.Duration
	popTimeout time.Duration
	retryDelay time.Duration
	maxPending int

	batchMu sync.Mutex
	batch   []models.RoomEvent
}

func NewService(logger *logrus.Logger, source Source, store Store, opts Options) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = 500 * time.Millisecond
	}
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = 3 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.MaxPending < opts.BatchSize {
		opts.MaxPending = 100 * opts.BatchSize
	}
	return &Service{
		source:     source,
		store:      store,
		logger:     logger,
		batchSize:  opts.BatchSize,
		flushDelay: opts.FlushDelay,
		popTimeout: opts.PopTimeout,
		retryDelay: opts.RetryDelay,
		maxPending: opts.MaxPending,
		batch:      make([]models.RoomEvent, 0, opts.BatchSize),
	}
}

// Run pops events until ctx is cancelled, flushing on size or interval.
// Whatever is still buffered at shutdown is flushed before returning.
func (s *Service) Run(ctx context.Context) {
	s.logger.Info("historian started")
	defer s.logger.Info("historian stopped")

	lastFlush := time.Now()
	for {
		if ctx.Err() != nil {
			// Use a fresh context so the final batch is not lost to the cancellation.
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.Flush(flushCtx)
			cancel()
			return
		}

		if time.Since(lastFlush) >= s.flushDelay {
			s.Flush(ctx)
			lastFlush = time.Now()
		}

		// Short pops keep the flush interval honest while the list is idle.
		wait := s.popTimeout
		if wait > s.flushDelay {
			wait = s.flushDelay
		}
		ev, ok, err := s.source.Pop(ctx, wait)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
				s.logger.WithError(err).Error("failed to pop room event")
				select {
				case <-ctx.Done():
				case <-time.After(s.retryDelay):
				}
			}
			continue
		}
		if !ok {
			continue
		}
		if s.add(ev) {
			s.Flush(ctx)
			lastFlush = time.Now()
		}
	}
}

// add buffers ev and reports whether the batch is full. Once maxPending
// events are held the oldest is dropped.
func (s *Service) add(ev models.RoomEvent) bool {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	if len(s.batch) >= s.maxPending {
		dropped := s.batch[0]
		s.batch = append(s.batch[:0], s.batch[1:]...)
		s.logger.WithFields(logrus.Fields{
			"room_id": dropped.RoomID,
			"type":    dropped.Type,
			"pending": len(s.batch),
		}).Warn("room event buffer full, dropping oldest event")
	}
	s.batch = append(s.batch, ev)
	return len(s.batch) >= s.batchSize
}

// Flush writes the buffered events in one transaction. A failed batch stays
// buffered and is retried on the next flush.
func (s *Service) Flush(ctx context.Context) int {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	if len(s.batch) == 0 {
		return 0
	}
	if err := s.store.InsertRoomEvents(ctx, s.batch); err != nil {
		s.logger.WithError(err).WithField("pending", len(s.batch)).Error("failed to flush room events")
		return 0
	}
	n := len(s.batch)
	s.batch = make([]models.RoomEvent, 0, s.batchSize)
	s.logger.WithField("count", n).Debug("flushed room events")
	return n
}

// Pending returns the number of buffered events.
func (s *Service) Pending() int {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	return len(s.batch)
}
