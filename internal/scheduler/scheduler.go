package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/owntube/owntube/internal/logging"
	"github.com/owntube/owntube/internal/queue"
	"github.com/owntube/owntube/pkg/models"
)

// ChannelLister lists the channels to refresh
type ChannelLister interface {
	ListAll(ctx context.Context) ([]*models.Channel, error)
}

// JobPublisher defines the interface for publishing jobs to queue
type JobPublisher interface {
	PublishJob(ctx context.Context, job *models.Job) error
}

// PublisherFunc adapts a function to JobPublisher, letting jobs run inline
// when no message queue is configured
type PublisherFunc func(ctx context.Context, job *models.Job) error

// PublishJob calls f(ctx, job)
func (f PublisherFunc) PublishJob(ctx context.Context, job *models.Job) error {
	return f(ctx, job)
}

// RefreshScheduler periodically turns every known channel into an
// ingest_feed job. Jobs that could not be published stay pending and are
// retried on the next tick, highest priority first.
type RefreshScheduler struct {
	channels  ChannelLister
	publisher JobPublisher
	interval  time.Duration
	logger    *logging.Logger

	mu      sync.Mutex
	queue   *PriorityQueue
	pending map[string]bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a new refresh scheduler
func NewScheduler(channels ChannelLister, publisher JobPublisher, interval time.Duration, logger *logging.Logger) *RefreshScheduler {
	if logger == nil {
		logger = logging.Nop()
	}
	pq := &PriorityQueue{}
	heap.Init(pq)
	return &RefreshScheduler{
		channels:  channels,
		publisher: publisher,
		interval:  interval,
		logger:    logger,
		queue:     pq,
		pending:   make(map[string]bool),
	}
}

// Start runs one refresh immediately and then one per interval until Stop
// is called or ctx is cancelled.
func (s *RefreshScheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("invalid refresh interval %s", s.interval)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx)

	s.logger.WithField("interval", s.interval.String()).Info("Refresh scheduler started")
	return nil
}

// Stop stops the scheduler and waits for the running tick to finish
func (s *RefreshScheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Refresh scheduler stopped")
}

func (s *RefreshScheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.WithError(err).Warn("Refresh tick failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick schedules a refresh job for every channel and publishes all pending jobs
func (s *RefreshScheduler) Tick(ctx context.Context) error {
	channels, err := s.channels.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list channels: %w", err)
	}

	for _, ch := range channels {
		job := queue.NewJob(models.JobTypeIngestFeed, models.JobPriorityNormal)
		job.ChannelID = ch.ID
		s.Schedule(job)
	}

	return s.flush(ctx)
}

// Schedule adds a job to the pending queue. A channel that already has a
// pending refresh keeps a single job, raised to the higher priority.
func (s *RefreshScheduler) Schedule(job *models.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := jobKey(job)
	if s.pending[key] {
		for _, item := range *s.queue {
			if jobKey(item.Job) == key && job.Priority > item.Priority {
				item.Priority = job.Priority
				item.Job.Priority = job.Priority
				heap.Fix(s.queue, item.Index)
				break
			}
		}
		return
	}

	heap.Push(s.queue, &QueueItem{
		Job:       job,
		Priority:  job.Priority,
		Timestamp: time.Now(),
	})
	s.pending[key] = true
}

// flush publishes pending jobs in priority order and stops at the first
// publish failure, leaving the rest pending.
func (s *RefreshScheduler) flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	published := 0
	for s.queue.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		item := heap.Pop(s.queue).(*QueueItem)
		if err := s.publisher.PublishJob(ctx, item.Job); err != nil {
			heap.Push(s.queue, item)
			return errors.Join(fmt.Errorf("failed to publish job for channel %s", item.Job.ChannelID), err)
		}
		delete(s.pending, jobKey(item.Job))
		published++
	}

	s.logger.WithField("jobs", published).Debug("Published refresh jobs")
	return nil
}

// GetQueueDepth returns the number of jobs waiting to be published
func (s *RefreshScheduler) GetQueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.queue.Len()
}

func jobKey(job *models.Job) string {
	return job.Type + ":" + job.ChannelID
}

// PriorityQueue implements a priority queue for jobs
type PriorityQueue []*QueueItem

// QueueItem represents a job in the priority queue
type QueueItem struct {
	Job       *models.Job
	Priority  int
	Timestamp time.Time
	Index     int
}

func (pq PriorityQueue) Len() int { return len(pq) }

func (pq PriorityQueue) Less(i, j int) bool {
	// Higher priority first
	if pq[i].Priority != pq[j].Priority {
		return pq[i].Priority > pq[j].Priority
	}
	// If same priority, FIFO (earlier timestamp first)
	return pq[i].Timestamp.Before(pq[j].Timestamp)
}

func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].Index = i
	pq[j].Index = j
}

func (pq *PriorityQueue) Push(x interface{}) {
	n := len(*pq)
	item := x.(*QueueItem)
	item.Index = n
	*pq = append(*pq, item)
}

func (pq *PriorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	*pq = old[0 : n-1]
	return item
}
