package scheduler

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"leadmarket/platform/config"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Client enqueues scheduled tasks. A nil client is safe to call; scheduling
// then silently no-ops and the periodic sweep picks up expiries.
type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queue,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// ScheduleOfferExpiry enqueues the hard expiry check at the offer's window
// boundary.
func (c *Client) ScheduleOfferExpiry(ctx context.Context, offerID uuid.UUID, runAt time.Time) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewOfferExpiryTask(OfferExpiryPayload{OfferID: offerID.String()})
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task, asynq.ProcessAt(runAt), asynq.Queue(c.queue))
	return err
}

// ScheduleOfferExpiryWarning enqueues the advance warning ahead of expiry.
func (c *Client) ScheduleOfferExpiryWarning(ctx context.Context, offerID uuid.UUID, runAt time.Time) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewOfferExpiryWarningTask(OfferExpiryWarningPayload{OfferID: offerID.String()})
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task, asynq.ProcessAt(runAt), asynq.Queue(c.queue))
	return err
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
