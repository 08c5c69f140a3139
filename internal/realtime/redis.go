package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"marketgate.org/internal/identity"
	"marketgate.org/internal/obs"
)

const (
	defaultRedisPrefix = "marketgate:accounts:"
	defaultHealthEvery = 30 * time.Second
)

// RedisFeed carries change events over Redis pub/sub, one channel per Account.
type RedisFeed struct {
	client      *redis.Client
	prefix      string
	healthEvery time.Duration
	log         *zap.Logger
}

var (
	_ identity.Feed      = (*RedisFeed)(nil)
	_ identity.Publisher = (*RedisFeed)(nil)
)

func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client, prefix: defaultRedisPrefix, healthEvery: defaultHealthEvery, log: obs.Logger()}
}

func (f *RedisFeed) channel(accountID string) string { return f.prefix + accountID }

// Subscribe confirms the subscription with Redis before returning. The returned
// channel closes when ctx ends or when the connection is lost, so callers see a drop
// instead of a silent reconnect that could have missed messages.
func (f *RedisFeed) Subscribe(ctx context.Context, accountID string) (<-chan identity.ChangeEvent, error) {
	ps := f.client.Subscribe(ctx, f.channel(accountID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	rctx, stop := context.WithCancel(ctx)
	go func() {
		// Closing the PubSub unblocks a pending receive.
		<-rctx.Done()
		_ = ps.Close()
	}()

	out := make(chan identity.ChangeEvent, subscriberBuffer)
	go func() {
		defer close(out)
		defer stop()
		for {
			msg, err := ps.ReceiveTimeout(rctx, f.healthEvery)
			if err != nil {
				if rctx.Err() != nil {
					return
				}
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					if err := ps.Ping(rctx); err == nil {
						continue
					}
				}
				f.log.Warn("redis_feed_dropped", zap.String("account_id", accountID), zap.Error(err))
				return
			}
			m, ok := msg.(*redis.Message)
			if !ok {
				continue
			}
			var evt identity.ChangeEvent
			if err := json.Unmarshal([]byte(m.Payload), &evt); err != nil {
				f.log.Warn("redis_feed_decode_failed", zap.String("channel", m.Channel), zap.Error(err))
				continue
			}
			select {
			case out <- evt:
			case <-rctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Publish sends evt on the Account's channel.
func (f *RedisFeed) Publish(ctx context.Context, evt identity.ChangeEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, f.channel(evt.Account.ID), data).Err()
}
