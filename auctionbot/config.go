package auctionbot

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/disgoorg/auction-bot/auctionbot/cache"
	"github.com/disgoorg/auction-bot/auctionbot/config"
	"github.com/disgoorg/auction-bot/auctionbot/economy/auction"
	"github.com/disgoorg/snowflake/v2"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// LoadConfig reads the TOML config at path. A .env file in the working
// directory is loaded first so DISCORD_TOKEN and DATABASE_PATH can
// override secrets kept out of the config file.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to load .env file", slog.Any("error", err))
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	cfg := DefaultConfig()
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.applyEnv()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns the configuration used for any key missing from the file.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level: slog.LevelInfo,
		},
		DB: DBConfig{
			Driver:      "sqlite",
			Path:        "auctions.db",
			BusyTimeout: Duration{5 * time.Second},
		},
		Auction: AuctionConfig{
			MinDuration:        Duration{config.DefaultMinDuration},
			MaxDuration:        Duration{config.DefaultMaxDuration},
			MinIncrement:       config.DefaultMinIncrement,
			MaxImages:          config.MaxImages,
			MaxImageSize:       config.MaxImageSize,
			BidCooldown:        Duration{config.DefaultBidCooldown},
			QuickBidCooldown:   Duration{config.DefaultQuickBidCooldown},
			UpdateThrottle:     Duration{config.DefaultUpdateThrottle},
			AntiSnipeThreshold: Duration{config.DefaultAntiSnipeThreshold},
			AntiSnipeExtension: Duration{config.DefaultAntiSnipeExtension},
			ReconcileInterval:  Duration{config.DefaultReconcileInterval},
		},
		Cache: CacheConfig{
			AuctionTTL:    Duration{config.AuctionCacheTTL},
			BidTTL:        Duration{config.BidCacheTTL},
			UserTTL:       Duration{config.UserCacheTTL},
			SweepInterval: Duration{config.CacheSweepInterval},
			CarouselSize:  config.CarouselCacheSize,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
	}
}

type Config struct {
	Log     LogConfig     `toml:"log"`
	Bot     BotConfig     `toml:"bot"`
	DB      DBConfig      `toml:"db"`
	Auction AuctionConfig `toml:"auction"`
	Cache   CacheConfig   `toml:"cache"`
	Spaces  SpacesConfig  `toml:"spaces"`
	HTTP    HTTPConfig    `toml:"http"`
}

func (c *Config) applyEnv() {
	if token := os.Getenv("DISCORD_TOKEN"); token != "" {
		c.Bot.Token = token
	}
	if path := os.Getenv("DATABASE_PATH"); path != "" {
		c.DB.Path = path
	}
}

// Validate rejects configurations the bot cannot start with.
func (c *Config) Validate() error {
	if c.Bot.Token == "" {
		return errors.New("bot token is not set (config bot.token or DISCORD_TOKEN)")
	}
	if c.Auction.MinDuration.Duration <= 0 || c.Auction.MaxDuration.Duration < c.Auction.MinDuration.Duration {
		return fmt.Errorf("invalid auction duration bounds: min=%s max=%s", c.Auction.MinDuration, c.Auction.MaxDuration)
	}
	if c.Auction.MinIncrement <= 0 {
		return fmt.Errorf("auction.min_increment must be positive, got %d", c.Auction.MinIncrement)
	}
	switch c.DB.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported db.driver %q", c.DB.Driver)
	}
	return nil
}

type BotConfig struct {
	DevGuilds      []snowflake.ID `toml:"dev_guilds"`
	Token          string         `toml:"token"`
	AdminRoles     []snowflake.ID `toml:"admin_roles"`
	AnnounceRoleID snowflake.ID   `toml:"announce_role_id"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
}

type DBConfig struct {
	Driver      string   `toml:"driver"`
	Path        string   `toml:"path"`
	BusyTimeout Duration `toml:"busy_timeout"`
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	User        string   `toml:"user"`
	Password    string   `toml:"password"`
	Database    string   `toml:"database"`
	PoolSize    int      `toml:"pool_size"`
}

type AuctionConfig struct {
	MinDuration        Duration `toml:"min_duration"`
	MaxDuration        Duration `toml:"max_duration"`
	MinIncrement       int64    `toml:"min_increment"`
	MaxImages          int      `toml:"max_images"`
	MaxImageSize       int      `toml:"max_image_size"`
	BidCooldown        Duration `toml:"bid_cooldown"`
	QuickBidCooldown   Duration `toml:"quick_bid_cooldown"`
	UpdateThrottle     Duration `toml:"update_throttle"`
	AntiSnipeThreshold Duration `toml:"anti_snipe_threshold"`
	AntiSnipeExtension Duration `toml:"anti_snipe_extension"`
	ReconcileInterval  Duration `toml:"reconcile_interval"`
}

type CacheConfig struct {
	AuctionTTL    Duration `toml:"auction_ttl"`
	BidTTL        Duration `toml:"bid_ttl"`
	UserTTL       Duration `toml:"user_ttl"`
	SweepInterval Duration `toml:"sweep_interval"`
	CarouselSize  int      `toml:"carousel_size"`
}

// SpacesConfig points at an S3 compatible bucket used to mirror auction images.
// Mirroring is skipped when Bucket is empty.
type SpacesConfig struct {
	Key      string `toml:"key"`
	Secret   string `toml:"secret"`
	Region   string `toml:"region"`
	Bucket   string `toml:"bucket"`
	Endpoint string `toml:"endpoint"`
	Root     string `toml:"root"`
}

func (s SpacesConfig) Enabled() bool {
	return s.Bucket != "" && s.Key != ""
}

type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// Duration is a time.Duration written as a string ("30s", "48h") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ManagerConfig converts the auction and cache sections for auction.NewManager.
func (c Config) ManagerConfig() auction.Config {
	return auction.Config{
		MinDuration:        c.Auction.MinDuration.Duration,
		MaxDuration:        c.Auction.MaxDuration.Duration,
		MinIncrement:       c.Auction.MinIncrement,
		MaxImages:          c.Auction.MaxImages,
		BidCooldown:        c.Auction.BidCooldown.Duration,
		QuickBidCooldown:   c.Auction.QuickBidCooldown.Duration,
		AntiSnipeThreshold: c.Auction.AntiSnipeThreshold.Duration,
		AntiSnipeExtension: c.Auction.AntiSnipeExtension.Duration,
		SweepInterval:      c.Cache.SweepInterval.Duration,
		ReconcileInterval:  c.Auction.ReconcileInterval.Duration,
		BidHistory:         config.BidsShown,
		TTLs: cache.TTLConfig{
			Auction: c.Cache.AuctionTTL.Duration,
			Bids:    c.Cache.BidTTL.Duration,
			User:    c.Cache.UserTTL.Duration,
		},
	}
}
