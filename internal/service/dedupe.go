package service

import (
	"context"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/p2deal/dealbot/internal/config"
	"github.com/p2deal/dealbot/internal/redis"
)

// MessageDeduper answers whether a message id has already been handled.
// Webhook deliveries can repeat; at-least-once delivery plus this check
// gives effectively-once processing.
type MessageDeduper interface {
	Seen(ctx context.Context, messageID string) bool
}

type redisDeduper struct {
	client *goredis.Client
}

func NewRedisDeduper(client *goredis.Client) MessageDeduper {
	return &redisDeduper{client: client}
}

// Seen marks messageID as processed and reports whether it had been
// marked before. Redis failures fail open: a duplicate slipping through
// is preferable to dropping live traffic during an outage.
func (d *redisDeduper) Seen(ctx context.Context, messageID string) bool {
	set, err := d.client.SetNX(ctx, redis.ProcessedKey(messageID), "1", config.ProcessedTTL).Result()
	if err != nil {
		log.Warn().Err(err).Str("messageId", messageID).Msg("dedupe check failed, processing anyway")
		return false
	}
	return !set
}
