package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// ProcessedKey is the dedupe key for an inbound message id. The gateway
// may redeliver on ack timeout; reactions must not double-count.
func ProcessedKey(messageID string) string {
	return fmt.Sprintf("processed:%s", messageID)
}

// DraftRateKey is the sliding-window rate limit key for new drafts in a
// conversation.
func DraftRateKey(conversationID string) string {
	return fmt.Sprintf("drafts:%s", conversationID)
}
