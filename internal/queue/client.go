package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/donation-core/internal/config"
	"github.com/donation-core/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// DefaultQueue default queue name
	DefaultQueue = constants.QueueDefault
	// CriticalQueue queue for billing runs
	CriticalQueue = constants.QueueCritical
)

// Client asynq client wrapper. A disabled client reports Enabled() == false
// and callers dispatch inline instead.
type Client struct {
	client       *asynq.Client
	enabled      bool
	defaultQueue string
}

// NewClient creates the queue client
func NewClient(cfg *config.QueueConfig) (*Client, error) {
	if cfg == nil || !cfg.Enabled {
		return &Client{enabled: false, defaultQueue: DefaultQueue}, nil
	}
	opt := buildRedisOpt(cfg)
	client := asynq.NewClient(opt)
	return &Client{
		client:       client,
		enabled:      true,
		defaultQueue: DefaultQueue,
	}, nil
}

// Enabled reports whether tasks are actually enqueued
func (c *Client) Enabled() bool {
	return c != nil && c.enabled && c.client != nil
}

// Close closes the client
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueContributionCompleted pushes the completion signal
func (c *Client) EnqueueContributionCompleted(payload ContributionCompletedPayload, opts ...asynq.Option) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewContributionCompletedTask(payload)
	if err != nil {
		return err
	}
	options := append([]asynq.Option{asynq.Queue(c.defaultQueue), asynq.MaxRetry(10)}, opts...)
	_, err = c.client.Enqueue(task, options...)
	return err
}

// EnqueueScheduleCancelled pushes the cancellation notice
func (c *Client) EnqueueScheduleCancelled(payload ScheduleCancelledPayload, opts ...asynq.Option) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewScheduleCancelledTask(payload)
	if err != nil {
		return err
	}
	options := append([]asynq.Option{asynq.Queue(c.defaultQueue), asynq.MaxRetry(10)}, opts...)
	_, err = c.client.Enqueue(task, options...)
	return err
}

// EnqueueBillingRun asks a worker to run one billing cycle. Unique keeps
// overlapping requests from piling up while a run is queued.
func (c *Client) EnqueueBillingRun(uniqueFor time.Duration) error {
	if !c.Enabled() {
		return nil
	}
	options := []asynq.Option{asynq.Queue(CriticalQueue), asynq.MaxRetry(0)}
	if uniqueFor > 0 {
		options = append(options, asynq.Unique(uniqueFor))
	}
	_, err := c.client.Enqueue(NewBillingRunDueCycleTask(), options...)
	return err
}

// BuildServerConfig worker server settings
func BuildServerConfig(cfg *config.QueueConfig) (asynq.RedisClientOpt, asynq.Config) {
	opt := buildRedisOpt(cfg)
	concurrency := 10
	if cfg != nil && cfg.Concurrency > 0 {
		concurrency = cfg.Concurrency
	}
	queues := map[string]int{DefaultQueue: 1}
	if cfg != nil && len(cfg.Queues) > 0 {
		queues = cfg.Queues
	}
	return opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      queues,
	}
}

// BuildRedisOpt connection options for schedulers and inspectors
func BuildRedisOpt(cfg *config.QueueConfig) asynq.RedisClientOpt {
	return buildRedisOpt(cfg)
}

func buildRedisOpt(cfg *config.QueueConfig) asynq.RedisClientOpt {
	host := "127.0.0.1"
	port := 6379
	password := ""
	db := 0
	if cfg != nil {
		if strings.TrimSpace(cfg.Host) != "" {
			host = strings.TrimSpace(cfg.Host)
		}
		if cfg.Port > 0 {
			port = cfg.Port
		}
		password = cfg.Password
		db = cfg.DB
	}
	return asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	}
}
