// Package service runs the background workers that archive delivered records.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tuncerburak97/gozcu/internal/metrics"
	"github.com/tuncerburak97/gozcu/internal/model"
	"github.com/tuncerburak97/gozcu/internal/repository"
)

const (
	DefaultWorkers       = 2
	DefaultBufferSize    = 1000
	DefaultBatchSize     = 100
	DefaultFlushInterval = time.Second
	saveTimeout          = 10 * time.Second
)

var (
	// ErrClosed is returned by Shutdown when it is called twice.
	ErrClosed = errors.New("archive service already shut down")

	errQueueFull = errors.New("archive queue full")
)

type Options struct {
	Backend       string
	Workers       int
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

type entry struct {
	id      string
	payload []byte
}

// ArchiveService batches encoded payloads into a RecordRepository. Enqueue
// never blocks; entries are dropped when the queue is full.
type ArchiveService struct {
	repo    repository.RecordRepository
	opts    Options
	queue   chan entry
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	metrics *metrics.MetricsCollector
	logger  *zerolog.Logger
}

func NewArchiveService(repo repository.RecordRepository, opts Options, m *metrics.MetricsCollector, logger *zerolog.Logger) *ArchiveService {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	s := &ArchiveService{
		repo:    repo,
		opts:    opts,
		queue:   make(chan entry, opts.BufferSize),
		done:    make(chan struct{}),
		metrics: m,
		logger:  logger,
	}
	s.startWorkers()
	return s
}

func (s *ArchiveService) startWorkers() {
	for i := 0; i < s.opts.Workers; i++ {
		s.wg.Add(1)
		go s.process(i)
	}
	go s.monitorQueue()
}

// Enqueue hands an encoded payload to the workers. It reports false when the
// queue is full or the service is shut down.
func (s *ArchiveService) Enqueue(id string, payload []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}

	select {
	case s.queue <- entry{id: id, payload: payload}:
		return true
	default:
		s.metrics.LogError("archive_queue_full", errQueueFull)
		s.logger.Warn().Str("trace_id", id).Msg("Archive queue full, dropping record")
		return false
	}
}

func (s *ArchiveService) process(workerID int) {
	defer s.wg.Done()

	batch := make([]*model.ArchivedRecord, 0, s.opts.BatchSize)
	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-s.queue:
			if !ok {
				s.saveBatch(workerID, batch)
				return
			}
			rec, err := model.NewArchivedRecord(e.id, e.payload)
			if err != nil {
				s.metrics.LogError("archive_decode", err)
				s.logger.Error().Err(err).Str("trace_id", e.id).Msg("Failed to index archived record")
				continue
			}
			batch = append(batch, rec)
			if len(batch) >= s.opts.BatchSize {
				s.saveBatch(workerID, batch)
				batch = make([]*model.ArchivedRecord, 0, s.opts.BatchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.saveBatch(workerID, batch)
				batch = make([]*model.ArchivedRecord, 0, s.opts.BatchSize)
			}
		}
	}
}

func (s *ArchiveService) saveBatch(workerID int, batch []*model.ArchivedRecord) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	ctx = s.logger.WithContext(ctx)

	start := time.Now()
	if err := s.repo.SaveRecords(ctx, batch); err != nil {
		s.metrics.LogError("archive_batch_save", err)
		s.logger.Error().
			Err(err).
			Int("worker", workerID).
			Int("batch_size", len(batch)).
			Str("backend", s.opts.Backend).
			Msg("Failed to save archive batch")
		return
	}
	s.metrics.ObserveBatchSave(s.opts.Backend, time.Since(start), len(batch))
}

func (s *ArchiveService) monitorQueue() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.metrics.ObserveQueueSize("archive", float64(len(s.queue)))
		}
	}
}

// Shutdown stops accepting entries and waits for the workers to flush what
// is queued, or for ctx to end.
func (s *ArchiveService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	close(s.queue)
	close(s.done)
	s.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
