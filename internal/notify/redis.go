package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jensholdgaard/auction-house/internal/config"
)

// Redis publishes auction events to a Redis pub/sub channel. Downstream
// processes (websocket fan-out, presence counters) subscribe to it.
type Redis struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// redisEvent is the published wire payload.
type redisEvent struct {
	Kind      string `json:"kind"`
	AuctionID string `json:"auction_id"`
}

// NewRedis connects to Redis and returns a publishing Notifier.
func NewRedis(ctx context.Context, cfg config.RedisNotifyConfig, logger *slog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &Redis{client: client, channel: cfg.Channel, logger: logger}, nil
}

// Close releases the Redis connection.
func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) publish(ctx context.Context, kind, auctionID string) {
	payload, err := json.Marshal(redisEvent{Kind: kind, AuctionID: auctionID})
	if err != nil {
		r.logger.ErrorContext(ctx, "marshalling redis event", slog.Any("error", err))
		return
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.WarnContext(ctx, "redis publish failed",
			slog.String("kind", kind),
			slog.String("auction_id", auctionID),
			slog.Any("error", err),
		)
	}
}

func (r *Redis) BidUpdated(ctx context.Context, auctionID string) {
	r.publish(ctx, "bid_updated", auctionID)
}

func (r *Redis) AuctionEnded(ctx context.Context, auctionID string) {
	r.publish(ctx, "auction_ended", auctionID)
}

func (r *Redis) OfferUpdated(ctx context.Context, auctionID string) {
	r.publish(ctx, "offer_updated", auctionID)
}
