package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/owntube/owntube/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannels struct {
	channels []*models.Channel
	err      error
}

func (f *fakeChannels) ListAll(ctx context.Context) ([]*models.Channel, error) {
	return f.channels, f.err
}

type recordingPublisher struct {
	mu   sync.Mutex
	jobs []*models.Job
	fail bool
}

func (p *recordingPublisher) PublishJob(ctx context.Context, job *models.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.jobs = append(p.jobs, job)
	return nil
}

func (p *recordingPublisher) published() []*models.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*models.Job(nil), p.jobs...)
}

func TestPriorityQueue(t *testing.T) {
	pq := &PriorityQueue{}
	heap.Init(pq)

	// Create jobs with different priorities
	jobs := []*models.Job{
		{ID: "job-1", Priority: 5},
		{ID: "job-2", Priority: 10},
		{ID: "job-3", Priority: 1},
		{ID: "job-4", Priority: 7},
	}

	for _, job := range jobs {
		heap.Push(pq, &QueueItem{Job: job, Priority: job.Priority, Timestamp: time.Now()})
	}

	assert.Equal(t, 4, pq.Len())

	expectedOrder := []string{"job-2", "job-4", "job-1", "job-3"}
	for i, expectedID := range expectedOrder {
		item := heap.Pop(pq).(*QueueItem)
		assert.Equal(t, expectedID, item.Job.ID, "Job order mismatch at position %d", i)
	}

	assert.Equal(t, 0, pq.Len())
}

func TestPriorityQueueFIFO(t *testing.T) {
	pq := &PriorityQueue{}
	heap.Init(pq)

	baseTime := time.Now()
	items := []*QueueItem{
		{Job: &models.Job{ID: "job-1"}, Priority: 5, Timestamp: baseTime},
		{Job: &models.Job{ID: "job-2"}, Priority: 5, Timestamp: baseTime.Add(1 * time.Second)},
		{Job: &models.Job{ID: "job-3"}, Priority: 5, Timestamp: baseTime.Add(2 * time.Second)},
	}
	for _, item := range items {
		heap.Push(pq, item)
	}

	for _, expectedID := range []string{"job-1", "job-2", "job-3"} {
		item := heap.Pop(pq).(*QueueItem)
		assert.Equal(t, expectedID, item.Job.ID)
	}
}

func TestTickPublishesOneJobPerChannel(t *testing.T) {
	channels := &fakeChannels{channels: []*models.Channel{{ID: "c1"}, {ID: "c2"}}}
	pub := &recordingPublisher{}
	s := NewScheduler(channels, pub, time.Minute, nil)

	require.NoError(t, s.Tick(context.Background()))

	jobs := pub.published()
	require.Len(t, jobs, 2)
	ids := []string{jobs[0].ChannelID, jobs[1].ChannelID}
	assert.ElementsMatch(t, []string{"c1", "c2"}, ids)
	for _, job := range jobs {
		assert.Equal(t, models.JobTypeIngestFeed, job.Type)
		assert.NotEmpty(t, job.ID)
	}
	assert.Equal(t, 0, s.GetQueueDepth())
}

func TestTickKeepsJobsPendingOnPublishFailure(t *testing.T) {
	channels := &fakeChannels{channels: []*models.Channel{{ID: "c1"}, {ID: "c2"}}}
	pub := &recordingPublisher{fail: true}
	s := NewScheduler(channels, pub, time.Minute, nil)

	require.Error(t, s.Tick(context.Background()))
	assert.Equal(t, 2, s.GetQueueDepth())

	// A second failing tick does not duplicate pending channels
	require.Error(t, s.Tick(context.Background()))
	assert.Equal(t, 2, s.GetQueueDepth())

	pub.mu.Lock()
	pub.fail = false
	pub.mu.Unlock()

	require.NoError(t, s.Tick(context.Background()))
	assert.Len(t, pub.published(), 2)
	assert.Equal(t, 0, s.GetQueueDepth())
}

func TestScheduleRaisesPriorityOfPendingJob(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewScheduler(&fakeChannels{}, pub, time.Minute, nil)

	s.Schedule(&models.Job{ID: "a", Type: models.JobTypeIngestFeed, ChannelID: "c1", Priority: models.JobPriorityLow})
	s.Schedule(&models.Job{ID: "b", Type: models.JobTypeIngestFeed, ChannelID: "c2", Priority: models.JobPriorityNormal})
	s.Schedule(&models.Job{ID: "c", Type: models.JobTypeIngestFeed, ChannelID: "c1", Priority: models.JobPriorityHigh})
	assert.Equal(t, 2, s.GetQueueDepth())

	require.NoError(t, s.Tick(context.Background()))

	jobs := pub.published()
	require.Len(t, jobs, 2)
	assert.Equal(t, "c1", jobs[0].ChannelID)
	assert.Equal(t, models.JobPriorityHigh, jobs[0].Priority)
	assert.Equal(t, "c2", jobs[1].ChannelID)
}

func TestTickListError(t *testing.T) {
	s := NewScheduler(&fakeChannels{err: errors.New("db down")}, &recordingPublisher{}, time.Minute, nil)
	assert.Error(t, s.Tick(context.Background()))
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	channels := &fakeChannels{channels: []*models.Channel{{ID: "c1"}}}
	var mu sync.Mutex
	var runs int
	pub := PublisherFunc(func(ctx context.Context, job *models.Job) error {
		mu.Lock()
		runs++
		mu.Unlock()
		return nil
	})

	s := NewScheduler(channels, pub, 20*time.Millisecond, nil)
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs >= 2
	}, time.Second, 5*time.Millisecond)

	s.Stop()
}

func TestStartRejectsZeroInterval(t *testing.T) {
	s := NewScheduler(&fakeChannels{}, &recordingPublisher{}, 0, nil)
	assert.Error(t, s.Start(context.Background()))
}
