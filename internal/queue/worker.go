package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kiwi-query/internal/config"
	"github.com/OFFIS-RIT/kiwi-query/internal/util"
	"github.com/OFFIS-RIT/kiwi-query/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-query/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-query/pkg/query"

	"github.com/go-playground/validator"
	"github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/semaphore"
)

// QueryJob is the body of a message on QueryQueue.
type QueryJob struct {
	TenantID string          `json:"tenant_id" validate:"required"`
	Query    string          `json:"query" validate:"required"`
	Route    string          `json:"route,omitempty" validate:"omitempty,oneof=simple_lookup local global drift"`
	Profile  string          `json:"profile,omitempty"`
	Mode     ai.ResponseMode `json:"mode,omitempty" validate:"omitempty,oneof=concise detailed bulleted"`
}

// QueryResult is sent to the job's reply queue.
type QueryResult struct {
	Answer *query.Answer `json:"answer,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// errPermanent marks failures that retrying cannot fix.
var errPermanent = errors.New("permanent failure")

// Worker answers query jobs with the tenant's pipeline and replies to
// the queue named in the message's ReplyTo.
//
// A Worker should be created using NewWorker.
type Worker struct {
	pipelines   *query.PipelineCache
	pub         Publisher
	queue       string
	maxRetries  int
	timeout     time.Duration
	concurrency int64
	sem         *semaphore.Weighted
	validate    *validator.Validate
}

type NewWorkerParams struct {
	Pipelines *query.PipelineCache
	Publisher Publisher
	// Queue defaults to QueryQueue.
	Queue      string
	MaxRetries int
	// Timeout bounds a single job; zero means no bound.
	Timeout     time.Duration
	Concurrency int64
}

func NewWorker(params NewWorkerParams) *Worker {
	queue := params.Queue
	if queue == "" {
		queue = QueryQueue
	}
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{
		pipelines:   params.Pipelines,
		pub:         params.Publisher,
		queue:       queue,
		maxRetries:  params.MaxRetries,
		timeout:     params.Timeout,
		concurrency: concurrency,
		sem:         semaphore.NewWeighted(concurrency),
		validate:    validator.New(),
	}
}

// Run handles deliveries until ctx is done or the channel closes. At most
// Concurrency jobs run at once; Run waits for them before returning.
func (w *Worker) Run(ctx context.Context, deliveries <-chan amqp091.Delivery) {
	defer func() {
		// wait for in-flight jobs
		_ = w.sem.Acquire(context.Background(), w.concurrency)
		w.sem.Release(w.concurrency)
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping consumer", "queue", w.queue)
			return
		case msg, ok := <-deliveries:
			if !ok {
				logger.Info("Message channel closed", "queue", w.queue)
				return
			}
			if err := w.sem.Acquire(ctx, 1); err != nil {
				_ = msg.Nack(false, true)
				return
			}
			go func() {
				defer w.sem.Release(1)
				w.Handle(ctx, msg)
			}()
		}
	}
}

// Handle processes a single delivery and settles it: acked on success,
// moved to the retry queue on transient failures and to the dead letter
// queue on permanent ones or once retries are exhausted.
func (w *Worker) Handle(ctx context.Context, msg amqp091.Delivery) {
	startTime := time.Now()

	result, err := w.process(ctx, msg.Body)
	if err == nil {
		w.reply(ctx, msg, result)
		if ackErr := msg.Ack(false); ackErr != nil {
			logger.Error("Failed to ack message", "err", ackErr)
		}
		logger.Info("Message processed successfully", "queue", w.queue, "duration", time.Since(startTime))
		return
	}

	logger.Error("Error processing message", "queue", w.queue, "err", err)
	if ctx.Err() != nil {
		// shutting down; let the broker hand the job to someone else
		_ = msg.Nack(false, true)
		return
	}

	retries := retryCount(msg.Headers)
	if errors.Is(err, errPermanent) || retries >= w.maxRetries {
		w.reply(ctx, msg, &QueryResult{Error: err.Error()})
		w.deadLetter(ctx, msg)
		return
	}
	w.retry(ctx, msg, retries)
}

func (w *Worker) process(ctx context.Context, body []byte) (*QueryResult, error) {
	var job QueryJob
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("%w: malformed job: %w", errPermanent, err)
	}
	if err := w.validate.Struct(job); err != nil {
		return nil, fmt.Errorf("%w: invalid job: %w", errPermanent, err)
	}

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	pipeline, err := w.pipelines.Get(ctx, job.TenantID, job.Profile)
	if err != nil {
		if errors.Is(err, config.ErrUnknownProfile) {
			return nil, fmt.Errorf("%w: %w", errPermanent, err)
		}
		return nil, err
	}

	req := query.Request{Query: job.Query, TenantID: job.TenantID, ResponseMode: job.Mode}
	if job.Route != "" {
		route := query.Route(job.Route)
		req.RouteOverride = &route
	}

	answer, err := pipeline.Execute(ctx, req)
	if err != nil {
		if errors.Is(err, query.ErrInvalidQuery) || errors.Is(err, query.ErrUnknownRoute) {
			return nil, fmt.Errorf("%w: %w", errPermanent, err)
		}
		return nil, err
	}
	return &QueryResult{Answer: answer}, nil
}

func (w *Worker) reply(ctx context.Context, msg amqp091.Delivery, result *QueryResult) {
	if msg.ReplyTo == "" {
		return
	}
	body, err := json.Marshal(result)
	if err != nil {
		logger.Error("Failed to encode reply", "err", err)
		return
	}

	err = util.RetryErr(3, func() error {
		return w.pub.PublishWithContext(ctx, "", msg.ReplyTo, false, false, amqp091.Publishing{
			ContentType:   "application/json",
			CorrelationId: msg.CorrelationId,
			Body:          body,
			Timestamp:     time.Now(),
		})
	})
	if err != nil {
		logger.Error("Failed to publish reply", "reply_to", msg.ReplyTo, "correlation_id", msg.CorrelationId, "err", err)
	}
}

func retryCount(headers amqp091.Table) int {
	switch v := headers["x-retries"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func (w *Worker) deadLetter(ctx context.Context, msg amqp091.Delivery) {
	dlqName := w.queue + "_dlq"
	logger.Info("Sending message to DLQ", "dlq", dlqName)
	if err := PublishFIFO(ctx, w.pub, dlqName, msg.Body, msg.Headers); err != nil {
		logger.Error("Failed to publish to DLQ", "dlq", dlqName, "err", err)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}

func (w *Worker) retry(ctx context.Context, msg amqp091.Delivery, retries int) {
	retryName := w.queue + "_retry"
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["x-retries"] = int32(retries + 1)

	// keep the reply address so the retried job can still answer
	err := w.pub.PublishWithContext(ctx, "", retryName, false, false, amqp091.Publishing{
		ContentType:   msg.ContentType,
		Body:          msg.Body,
		Headers:       headers,
		DeliveryMode:  amqp091.Persistent,
		ReplyTo:       msg.ReplyTo,
		CorrelationId: msg.CorrelationId,
		Timestamp:     time.Now(),
	})
	if err != nil {
		logger.Error("Failed to publish to retry queue", "retry_queue", retryName, "err", err)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}
