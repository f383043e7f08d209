package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`

	// Messaging gateway (transport collaborator)
	GatewayBaseURL         string `env:"GATEWAY_BASE_URL,required"`
	GatewayAPIKey          string `env:"GATEWAY_API_KEY,required"`
	GatewaySignatureSecret string `env:"GATEWAY_SIGNATURE_SECRET"`

	// Agent identity in the chat transport
	AgentTag     string `env:"AGENT_TAG" envDefault:"@deal"`
	AgentAddress string `env:"AGENT_ADDRESS,required"`
	AgentInboxID string `env:"AGENT_INBOX_ID,required"`

	// AI generation collaborator
	OpenAIAPIKey  string `env:"OPENAI_API_KEY,required"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	ListingModel  string `env:"LISTING_MODEL" envDefault:"gpt-4o-mini"`
	ImageModel    string `env:"IMAGE_MODEL" envDefault:"dall-e-3"`

	// Object storage collaborator
	StorageBaseURL      string `env:"STORAGE_BASE_URL,required"`
	StorageAPIKey       string `env:"STORAGE_API_KEY"`
	StagingBucket       string `env:"STAGING_BUCKET" envDefault:"deal-staging"`
	PermanentBucket     string `env:"PERMANENT_BUCKET" envDefault:"deal-listings"`
	SignedURLTTLSeconds int    `env:"SIGNED_URL_TTL_SECONDS" envDefault:"900"`

	// Marketplace surface for published-listing links
	MarketplaceBaseURL string `env:"MARKETPLACE_BASE_URL" envDefault:"https://market.p2deal.xyz"`

	// Registry housekeeping and throttling
	DraftTTLMinutes    int `env:"DRAFT_TTL_MINUTES" envDefault:"60"`
	ApprovalTTLMinutes int `env:"APPROVAL_TTL_MINUTES" envDefault:"1440"`
	DraftsPerHour      int `env:"DRAFTS_PER_CONV_PER_HOUR" envDefault:"10"`
	QueueSize          int `env:"QUEUE_SIZE" envDefault:"256"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) SignedURLTTL() time.Duration {
	return time.Duration(c.SignedURLTTLSeconds) * time.Second
}

func (c *Config) DraftTTL() time.Duration {
	return time.Duration(c.DraftTTLMinutes) * time.Minute
}

func (c *Config) ApprovalTTL() time.Duration {
	return time.Duration(c.ApprovalTTLMinutes) * time.Minute
}

func (c *Config) Validate(isProduction bool) error {
	if !strings.HasPrefix(c.AgentTag, "@") {
		return fmt.Errorf("AGENT_TAG must start with '@' (got %q)", c.AgentTag)
	}
	if !strings.HasPrefix(c.MarketplaceBaseURL, "https://") {
		return fmt.Errorf("MARKETPLACE_BASE_URL must be an https:// URL")
	}

	if isProduction {
		if c.GatewaySignatureSecret == "" {
			log.Warn().Msg("GATEWAY_SIGNATURE_SECRET is empty in production: webhook signature verification disabled")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
