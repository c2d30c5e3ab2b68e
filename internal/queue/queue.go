package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/owntube/owntube/internal/config"
	"github.com/owntube/owntube/internal/logging"
	"github.com/owntube/owntube/internal/metrics"
	"github.com/owntube/owntube/pkg/models"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	JobQueueName = "owntube_jobs"
	ExchangeName = "owntube"
)

// Handler processes one job. Returning an error wrapped with Permanent sends
// the job to the dead letter queue; any other error schedules a retry.
type Handler func(ctx context.Context, job *models.Job) error

// amqpChannel is the part of *amqp.Channel the queue uses
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	QueueInspect(name string) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Queue provides message queue operations
type Queue struct {
	conn    *amqp.Connection
	channel amqpChannel
	logger  *logging.Logger
}

// New creates a new queue client and declares the job and dead letter queues
func New(cfg config.QueueConfig, logger *logging.Logger) (*Queue, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	// Declare exchange
	err = channel.ExchangeDeclare(
		ExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Declare queue
	_, err = channel.QueueDeclare(
		JobQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{"x-max-priority": int32(models.JobPriorityHigh)},
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	// Bind queue to exchange
	err = channel.QueueBind(
		JobQueueName,
		JobQueueName,
		ExchangeName,
		false,
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	if logger == nil {
		logger = logging.Nop()
	}
	q := &Queue{conn: conn, channel: channel, logger: logger}

	if err := q.SetupDeadLetterQueue(); err != nil {
		q.Close()
		return nil, err
	}

	return q, nil
}

// Close closes the queue connection
func (q *Queue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// NewJob builds a job with a fresh id
func NewJob(jobType string, priority int) *models.Job {
	return &models.Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}
}

func priority(job *models.Job) uint8 {
	switch {
	case job.Priority < models.JobPriorityLow:
		return models.JobPriorityLow
	case job.Priority > models.JobPriorityHigh:
		return models.JobPriorityHigh
	}
	return uint8(job.Priority)
}

func publishing(job *models.Job) (amqp.Publishing, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal job: %w", err)
	}
	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    time.Now(),
		Priority:     priority(job),
		MessageId:    job.ID,
	}, nil
}

// PublishJob publishes a job to the queue
func (q *Queue) PublishJob(ctx context.Context, job *models.Job) error {
	msg, err := publishing(job)
	if err != nil {
		return err
	}

	err = q.channel.PublishWithContext(ctx,
		ExchangeName,
		JobQueueName,
		false, // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}

	return nil
}

// ConsumeJobs starts consuming jobs from the queue with prefetch concurrent
// handlers. Every delivery is acknowledged; failed jobs are republished to the
// retry or dead letter queue.
func (q *Queue) ConsumeJobs(ctx context.Context, prefetch int, handler Handler) error {
	// Set QoS to limit concurrent processing
	err := q.channel.Qos(
		prefetch, // prefetch count
		0,        // prefetch size
		false,    // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := q.channel.Consume(
		JobQueueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	workers := prefetch
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						return
					}
					q.handle(ctx, msg, handler)
				}
			}
		}()
	}

	return nil
}

func (q *Queue) handle(ctx context.Context, msg amqp.Delivery, handler Handler) {
	var job models.Job
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		q.logger.WithError(err).Error("Dropping malformed job")
		msg.Nack(false, false)
		return
	}

	logger := q.logger.WithJobID(job.ID).WithField("type", job.Type)

	err := handler(ctx, &job)
	metrics.RecordJobProcessed(job.Type, err)

	switch {
	case err == nil:
	case IsPermanent(err):
		if dlqErr := q.PublishToDeadLetterQueue(ctx, &job, err.Error()); dlqErr != nil {
			logger.WithError(dlqErr).Error("Failed to dead-letter job")
			msg.Nack(false, true)
			return
		}
	default:
		if retryErr := q.PublishToRetryQueue(ctx, &job, err.Error()); retryErr != nil {
			logger.WithError(retryErr).Error("Failed to schedule job retry")
			msg.Nack(false, true)
			return
		}
	}

	msg.Ack(false)
}

// GetQueueDepth returns the number of messages in the queue
func (q *Queue) GetQueueDepth() (int, error) {
	info, err := q.channel.QueueInspect(JobQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}

	return info.Messages, nil
}

// permanentError marks a job failure that retrying cannot fix
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
