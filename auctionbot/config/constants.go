package config

import "time"

// UI and Display Constants
const (
	// Pagination
	AuctionsPerPage = 10
	BidsShown       = 5

	// Colors
	ErrorColor      = 0xFF0000
	SuccessColor    = 0x00FF00
	InfoColor       = 0x0099FF
	WarningColor    = 0xFFAA00
	BackgroundColor = 0x2B2D31

	// Auction state colors
	AuctionActiveColor  = 0x00FF00
	AuctionUrgentColor  = 0xFF9900
	AuctionExpiredColor = 0xFF0000

	// An auction is shown as urgent when it has less than this left
	UrgentThreshold = time.Hour
)

// Database and Performance Constants
const (
	DefaultQueryTimeout     = 30 * time.Second
	FinalizeTimeout         = 30 * time.Second
	CommandExecutionTimeout = 10 * time.Second
	SlowCommandThreshold    = 2 * time.Second

	// SQLite lock retries
	MaxBusyRetries = 3
	BusyRetryDelay = 100 * time.Millisecond

	// Notification retries when editing the public auction message
	MessageEditRetries = 3
)

// Auction defaults
const (
	DefaultMinDuration        = time.Hour
	DefaultMaxDuration        = 48 * time.Hour
	DefaultMinIncrement       = 1
	DefaultBidCooldown        = time.Second
	DefaultQuickBidCooldown   = 500 * time.Millisecond
	DefaultUpdateThrottle     = time.Second
	DefaultAntiSnipeThreshold = time.Minute
	DefaultAntiSnipeExtension = 2 * time.Minute
	DefaultReconcileInterval  = 5 * time.Minute

	MaxTitleLength     = 100
	MaxImages          = 10
	MaxImageSize       = 10 * 1024 * 1024
	MaxBidAmount       = 1_000_000_000_000_000
	DefaultDescription = "No description"
)

// Cache defaults
const (
	AuctionCacheTTL    = 30 * time.Second
	BidCacheTTL        = 10 * time.Second
	UserCacheTTL       = 5 * time.Minute
	CacheSweepInterval = time.Minute
	CarouselCacheSize  = 1024
)

// AllowedImageTypes lists the attachment content types accepted for auction images.
var AllowedImageTypes = []string{"image/png", "image/jpeg", "image/jpg", "image/gif", "image/webp"}
