package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/owntube/owntube/pkg/models"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DeadLetterQueueName    = "owntube_jobs_dlq"
	DeadLetterExchangeName = "owntube_dlq"
	RetryQueueName         = "owntube_jobs_retry"
	MaxRetries             = 5
)

// SetupDeadLetterQueue sets up the dead letter queue infrastructure
func (q *Queue) SetupDeadLetterQueue() error {
	// Declare dead letter exchange
	err := q.channel.ExchangeDeclare(
		DeadLetterExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}

	// Declare dead letter queue
	_, err = q.channel.QueueDeclare(
		DeadLetterQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ: %w", err)
	}

	// Bind DLQ to exchange
	err = q.channel.QueueBind(
		DeadLetterQueueName,
		DeadLetterQueueName,
		DeadLetterExchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind DLQ: %w", err)
	}

	// Expired retry messages flow back into the job queue
	retryArgs := amqp.Table{
		"x-dead-letter-exchange":    ExchangeName,
		"x-dead-letter-routing-key": JobQueueName,
	}

	_, err = q.channel.QueueDeclare(
		RetryQueueName,
		true,
		false,
		false,
		false,
		retryArgs,
	)
	if err != nil {
		return fmt.Errorf("failed to declare retry queue: %w", err)
	}

	q.logger.Debug("Dead letter queue infrastructure set up")
	return nil
}

// PublishToRetryQueue republishes a failed job after a backoff delay. A job
// that exhausted its retries goes to the dead letter queue instead.
func (q *Queue) PublishToRetryQueue(ctx context.Context, job *models.Job, reason string) error {
	if job.RetryCount >= MaxRetries {
		return q.PublishToDeadLetterQueue(ctx, job, "max retries exceeded: "+reason)
	}

	delay := calculateBackoffDelay(job.RetryCount)
	job.RetryCount++

	msg, err := publishing(job)
	if err != nil {
		return err
	}
	msg.Headers = amqp.Table{"x-retry-count": int32(job.RetryCount)}
	msg.Expiration = fmt.Sprintf("%d", delay.Milliseconds())

	err = q.channel.PublishWithContext(ctx,
		"",
		RetryQueueName,
		false,
		false,
		msg,
	)
	if err != nil {
		return fmt.Errorf("failed to publish to retry queue: %w", err)
	}

	q.logger.WithJobID(job.ID).
		WithField("retry", job.RetryCount).
		WithField("delay", delay.String()).
		Info("Job queued for retry")
	return nil
}

// PublishToDeadLetterQueue publishes a failed job to the dead letter queue
func (q *Queue) PublishToDeadLetterQueue(ctx context.Context, job *models.Job, reason string) error {
	msg, err := publishing(job)
	if err != nil {
		return err
	}
	msg.Headers = amqp.Table{
		"x-failure-reason": reason,
		"x-failed-at":      time.Now().Format(time.RFC3339),
	}

	err = q.channel.PublishWithContext(ctx,
		DeadLetterExchangeName,
		DeadLetterQueueName,
		false,
		false,
		msg,
	)
	if err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	q.logger.WithJobID(job.ID).WithField("reason", reason).Warn("Job moved to dead letter queue")
	return nil
}

// DeadLetter is a job parked in the dead letter queue
type DeadLetter struct {
	Job      *models.Job
	Reason   string
	FailedAt string
}

func deadLetter(job *models.Job, headers amqp.Table) *DeadLetter {
	dl := &DeadLetter{Job: job}
	if val, ok := headers["x-failure-reason"].(string); ok {
		dl.Reason = val
	}
	if val, ok := headers["x-failed-at"].(string); ok {
		dl.FailedAt = val
	}
	return dl
}

// ProcessDLQ hands every dead-lettered job to fn once. Jobs for which fn
// returns true are removed from the dead letter queue; the others stay. It
// stops at the first error and returns the number of jobs seen.
func (q *Queue) ProcessDLQ(ctx context.Context, fn func(ctx context.Context, dl *DeadLetter) (bool, error)) (int, error) {
	// Kept messages stay unacknowledged until the end so Get does not return
	// them twice.
	var kept []amqp.Delivery
	defer func() {
		for _, msg := range kept {
			msg.Nack(false, true)
		}
	}()

	seen := 0
	for {
		if err := ctx.Err(); err != nil {
			return seen, err
		}

		msg, ok, err := q.channel.Get(DeadLetterQueueName, false)
		if err != nil {
			return seen, fmt.Errorf("failed to read DLQ: %w", err)
		}
		if !ok {
			return seen, nil
		}

		var job models.Job
		if err := json.Unmarshal(msg.Body, &job); err != nil {
			q.logger.WithError(err).Error("Dropping malformed dead letter")
			msg.Nack(false, false)
			continue
		}
		seen++

		remove, err := fn(ctx, deadLetter(&job, msg.Headers))
		if err != nil {
			kept = append(kept, msg)
			return seen, err
		}
		if remove {
			msg.Ack(false)
		} else {
			kept = append(kept, msg)
		}
	}
}

// RetryFromDLQ puts a dead-lettered job back on the job queue with a fresh
// retry budget
func (q *Queue) RetryFromDLQ(ctx context.Context, job *models.Job) error {
	job.RetryCount = 0
	return q.PublishJob(ctx, job)
}

// calculateBackoffDelay calculates exponential backoff delay
func calculateBackoffDelay(retryCount int) time.Duration {
	// Exponential backoff: 1min, 2min, 4min, 8min, 16min
	baseDelay := 1 * time.Minute
	delay := baseDelay * (1 << retryCount) // 2^retryCount

	// Cap at 1 hour
	if delay > 1*time.Hour {
		delay = 1 * time.Hour
	}

	return delay
}
