package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"memtex-backend/pkg/logger"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

type PubSubConfig struct {
	ProjectID       string
	Topic           string
	Subscription    string // defaults to <topic>-sub
	DeadLetterTopic string
	CredentialsFile string
	Concurrency     int
}

// PubSubQueue publishes jobs to a topic and consumes them from a
// subscription. Retry backoff comes from the subscription's RetryPolicy;
// jobs out of attempts are forwarded to the dead letter topic when set.
// Duplicate detection is left to the handler, which must be idempotent.
type PubSubQueue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	log    *logger.Logger
	cfg    PubSubConfig

	// local delivery counts, used when the subscription has no dead letter
	// policy and Pub/Sub does not report DeliveryAttempt
	mu       sync.Mutex
	attempts map[string]int
}

func NewPubSubQueue(ctx context.Context, log *logger.Logger, cfg PubSubConfig, opts ...option.ClientOption) (*PubSubQueue, error) {
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %v", err)
	}
	if cfg.Subscription == "" {
		cfg.Subscription = cfg.Topic + "-sub"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	return &PubSubQueue{
		client:   client,
		topic:    client.Topic(cfg.Topic),
		log:      log.With("service", "PubSubQueue", "topic", cfg.Topic),
		cfg:      cfg,
		attempts: make(map[string]int),
	}, nil
}

func (q *PubSubQueue) Enqueue(ctx context.Context, job Job) (bool, error) {
	job = normalize(job)
	raw, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}
	res := q.topic.Publish(ctx, &pubsub.Message{
		Data: raw,
		Attributes: map[string]string{
			"job_id": job.ID,
			"name":   job.Name,
		},
	})
	if _, err := res.Get(ctx); err != nil {
		return false, fmt.Errorf("failed to publish job %s: %w", job.ID, err)
	}
	return true, nil
}

// ensureSubscription creates the subscription when missing.
func (q *PubSubQueue) ensureSubscription(ctx context.Context) (*pubsub.Subscription, error) {
	sub := q.client.Subscription(q.cfg.Subscription)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("error checking subscription existence: %w", err)
	}
	q.log.Info("subscription checked", "subscription", q.cfg.Subscription, "exists", exists)
	if exists {
		return sub, nil
	}

	topic := q.client.Topic(q.cfg.Topic)
	topicExists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("error checking topic existence: %w", err)
	}
	if !topicExists {
		if topic, err = q.client.CreateTopic(ctx, q.cfg.Topic); err != nil {
			return nil, fmt.Errorf("failed to create topic: %w", err)
		}
	}

	subCfg := pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: 60 * time.Second,
		RetryPolicy: &pubsub.RetryPolicy{
			MinimumBackoff: DefaultOptions.Backoff,
			MaximumBackoff: 10 * time.Minute,
		},
	}
	if q.cfg.DeadLetterTopic != "" {
		subCfg.DeadLetterPolicy = &pubsub.DeadLetterPolicy{
			DeadLetterTopic: q.client.Topic(q.cfg.DeadLetterTopic).String(),
			// Pub/Sub accepts 5..100; the job's own attempt limit is enforced in Consume.
			MaxDeliveryAttempts: 5,
		}
	}
	sub, err = q.client.CreateSubscription(ctx, q.cfg.Subscription, subCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	q.log.Info("created subscription", "subscription", q.cfg.Subscription)
	return sub, nil
}

func (q *PubSubQueue) Consume(ctx context.Context, handler Handler) error {
	sub, err := q.ensureSubscription(ctx)
	if err != nil {
		return err
	}
	sub.ReceiveSettings.MaxOutstandingMessages = q.cfg.Concurrency
	sub.ReceiveSettings.NumGoroutines = 1

	q.log.Info("listening for jobs", "subscription", q.cfg.Subscription)
	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		var job Job
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			q.log.Error("failed to unmarshal job, dropping", "message_id", msg.ID, "error", err)
			msg.Ack()
			return
		}
		job = normalize(job)
		job.Attempt = q.deliveryAttempt(job.ID, msg)

		herr := handler(ctx, job)
		if herr == nil || job.Attempt >= job.Opts.Attempts {
			q.mu.Lock()
			delete(q.attempts, job.ID)
			q.mu.Unlock()
		}
		switch {
		case herr == nil:
			msg.Ack()
		case job.Attempt < job.Opts.Attempts:
			q.log.Warn("job failed, redelivering", "job_id", job.ID, "attempt", job.Attempt, "error", herr)
			msg.Nack()
		default:
			q.log.Error("job failed permanently", "job_id", job.ID, "attempts", job.Attempt, "error", herr)
			q.deadLetter(ctx, msg)
			msg.Ack()
		}
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("error receiving messages: %w", err)
	}
	return nil
}

func (q *PubSubQueue) deliveryAttempt(jobID string, msg *pubsub.Message) int {
	if msg.DeliveryAttempt != nil {
		return *msg.DeliveryAttempt
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.attempts[jobID]++
	return q.attempts[jobID]
}

func (q *PubSubQueue) deadLetter(ctx context.Context, msg *pubsub.Message) {
	if q.cfg.DeadLetterTopic == "" {
		return
	}
	dlq := q.client.Topic(q.cfg.DeadLetterTopic)
	defer dlq.Stop()
	res := dlq.Publish(context.WithoutCancel(ctx), &pubsub.Message{
		Data:       msg.Data,
		Attributes: msg.Attributes,
	})
	if _, err := res.Get(context.WithoutCancel(ctx)); err != nil {
		q.log.Error("failed to forward job to dead letter topic", "message_id", msg.ID, "error", err)
	}
}

func (q *PubSubQueue) Close() error {
	q.topic.Stop()
	return q.client.Close()
}
