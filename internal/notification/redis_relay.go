package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type relayMessage struct {
	Category    string    `json:"category"`
	PublishedAt time.Time `json:"publishedAt"`
}

// RedisRelay broadcasts notifications through a Redis channel so every API
// instance refreshes its own subscribers. Each message reaches the local bus
// exactly once: through the subscription when Redis is healthy, directly
// when publishing fails or no client is configured.
type RedisRelay struct {
	client  *redis.Client
	channel string
	local   *LocalBus
	logger  *zap.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRedisRelay wraps local with Redis fan-out. A nil client keeps the relay
// in single-instance mode.
func NewRedisRelay(client *redis.Client, channel string, local *LocalBus, logger *zap.Logger) *RedisRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{client: client, channel: channel, local: local, logger: logger}
}

// Start subscribes to the channel and blocks until the subscription is
// confirmed, then relays messages in the background until Stop.
func (r *RedisRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.client == nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	pubsub := r.client.Subscribe(runCtx, r.channel)
	if _, err := pubsub.Receive(runCtx); err != nil {
		cancel()
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	r.cancel = cancel
	r.done = make(chan struct{})
	r.started = true
	go r.listen(runCtx, pubsub)
	r.logger.Info("notification relay started", zap.String("channel", r.channel))
	return nil
}

// Stop ends the subscription and waits for the listener to exit.
func (r *RedisRelay) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.cancel()
	done := r.done
	r.started = false
	r.mu.Unlock()
	<-done
}

// Subscribe registers a local handler.
func (r *RedisRelay) Subscribe(category string, handler Handler) func() {
	return r.local.Subscribe(category, handler)
}

// Publish sends category to every instance.
func (r *RedisRelay) Publish(ctx context.Context, category string) {
	if !r.running() {
		r.local.Publish(ctx, category)
		return
	}
	payload, err := json.Marshal(relayMessage{Category: category, PublishedAt: time.Now().UTC()})
	if err == nil {
		err = r.client.Publish(ctx, r.channel, payload).Err()
	}
	if err != nil {
		r.logger.Warn("redis publish failed, delivering locally", zap.String("category", category), zap.Error(err))
		r.local.Publish(ctx, category)
	}
}

func (r *RedisRelay) running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

func (r *RedisRelay) listen(ctx context.Context, pubsub *redis.PubSub) {
	defer close(r.done)
	defer pubsub.Close()
	r.consume(ctx, pubsub.Channel())
}

func (r *RedisRelay) consume(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("notification relay stopped", zap.String("channel", r.channel))
			return
		case msg, ok := <-ch:
			if !ok {
				r.detach()
				r.logger.Warn("notification relay subscription closed, delivering locally", zap.String("channel", r.channel))
				return
			}
			r.handle(ctx, msg)
		}
	}
}

// detach switches Publish back to local delivery after the subscription
// ended without Stop.
func (r *RedisRelay) detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	r.started = false
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *RedisRelay) handle(ctx context.Context, msg *redis.Message) {
	var m relayMessage
	if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil || m.Category == "" {
		if err == nil {
			err = errors.New("empty category")
		}
		r.logger.Warn("dropping malformed relay message", zap.String("payload", msg.Payload), zap.Error(err))
		return
	}
	r.local.Publish(ctx, m.Category)
}
