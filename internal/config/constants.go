package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const CleanupJobInterval = 5 * time.Minute

// Reply-chain resolution fetches a bounded page of recent messages,
// never the full conversation history.
const RecentMessageWindow = 50

// Listing field caps applied after AI generation
const (
	MaxTitleLen       = 80
	MaxDescriptionLen = 500
)

// Image generation prompt cap, below the generation service's limit
const MaxImagePromptLen = 900

// Dedupe keys for processed message ids expire after this long
const ProcessedTTL = 24 * time.Hour

// Sliding window for per-conversation draft throttling
const DraftRateWindow = time.Hour
