package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/disgoorg/auction-bot/auctionbot"
	"github.com/disgoorg/auction-bot/auctionbot/commands"
	"github.com/disgoorg/auction-bot/auctionbot/database"
	"github.com/disgoorg/auction-bot/auctionbot/database/repositories"
	"github.com/disgoorg/auction-bot/auctionbot/economy/auction"
	"github.com/disgoorg/auction-bot/auctionbot/health"
	"github.com/disgoorg/auction-bot/auctionbot/logger"
	"github.com/disgoorg/auction-bot/auctionbot/services"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/handler"
)

var (
	version = "dev"
	commit  = "unknown"
)

func setupLogger(cfg auctionbot.LogConfig) {
	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}
	if cfg.Format == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, opts)))
		return
	}
	slog.SetDefault(slog.New(logger.NewHandler("AuctionBot", opts)))
}

func main() {
	slog.SetDefault(slog.New(logger.NewHandler("AuctionBot", nil)))

	shouldSyncCommands := flag.Bool("sync-commands", false, "Whether to sync commands to discord")
	path := flag.String("config", "config.toml", "path to config")
	flag.Parse()

	cfg, err := auctionbot.LoadConfig(*path)
	if err != nil {
		logger.LogError("Failed to load configuration", err)
		os.Exit(-1)
	}
	setupLogger(cfg.Log)

	slog.Info("Starting auction bot",
		slog.String("type", "sys"),
		slog.String("version", version),
		slog.String("commit", commit))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbStartTime := time.Now()
	initCtx, initCancel := context.WithTimeout(ctx, time.Minute)
	db, err := database.New(initCtx, database.DBConfig{
		Driver:      cfg.DB.Driver,
		Path:        cfg.DB.Path,
		BusyTimeout: cfg.DB.BusyTimeout.Duration,
		Host:        cfg.DB.Host,
		Port:        cfg.DB.Port,
		User:        cfg.DB.User,
		Password:    cfg.DB.Password,
		Database:    cfg.DB.Database,
		PoolSize:    cfg.DB.PoolSize,
	})
	if err != nil {
		initCancel()
		slog.Error("Database connection failed",
			slog.Any("error", err),
			slog.Duration("attempted_for", time.Since(dbStartTime)))
		os.Exit(-1)
	}
	defer db.Close()

	if err = db.InitializeSchema(initCtx); err != nil {
		initCancel()
		slog.Error("Failed to initialize database schema", slog.Any("error", err))
		os.Exit(-1)
	}
	slog.Info("Database ready",
		slog.String("type", "db"),
		slog.String("driver", db.Driver()),
		logger.Elapsed(dbStartTime))

	b := auctionbot.New(*cfg, version, commit)
	b.DB = db

	if cfg.Spaces.Enabled() {
		images, err := services.NewSpacesService(initCtx,
			cfg.Spaces.Key,
			cfg.Spaces.Secret,
			cfg.Spaces.Region,
			cfg.Spaces.Bucket,
			cfg.Spaces.Endpoint,
			cfg.Spaces.Root,
			cfg.Auction.MaxImageSize,
		)
		if err != nil {
			slog.Warn("Image mirroring disabled", slog.Any("error", err))
		} else {
			b.Images = images
			slog.Info("Image mirroring enabled",
				slog.String("bucket", images.GetBucket()),
				slog.String("region", images.GetRegion()))
		}
	}

	repo := repositories.NewAuctionRepository(db.BunDB())
	b.AuctionManager = auction.NewManager(repo, cfg.ManagerConfig())

	h := handler.New()
	commands.NewAuctionHandler(b).Register(h)

	if err = b.SetupBot(h, bot.NewListenerFunc(b.OnReady)); err != nil {
		initCancel()
		logger.LogError("Failed to setup bot", err)
		os.Exit(-1)
	}

	b.AuctionManager.SetNotifier(auction.NewDiscordNotifier(
		b.Client,
		b.AuctionManager,
		b.AuctionManager.Cache(),
		cfg.Auction.UpdateThrottle.Duration,
	))

	if err = b.AuctionManager.Recover(initCtx); err != nil {
		slog.Error("Failed to recover auction timers", slog.Any("error", err))
	}
	initCancel()

	go func() {
		if err := b.AuctionManager.Run(ctx); err != nil {
			slog.Error("Auction manager stopped", slog.Any("error", err))
		}
	}()

	var httpServer *health.Server
	if cfg.HTTP.Enabled {
		httpServer = health.New(db, b.AuctionManager, version, commit)
		go func() {
			if err := httpServer.Listen(cfg.HTTP.Addr); err != nil {
				slog.Error("Health server stopped", slog.Any("error", err))
			}
		}()
	}

	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if httpServer != nil {
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("Health server shutdown error", slog.Any("error", err))
			}
		}
		b.AuctionManager.Shutdown()
		b.Client.Close(shutdownCtx)
	}()

	if *shouldSyncCommands {
		slog.Info("Syncing commands", slog.Any("guild_ids", cfg.Bot.DevGuilds))
		if err = handler.SyncCommands(b.Client, commands.Commands, cfg.Bot.DevGuilds); err != nil {
			slog.Error("Failed to sync commands", slog.Any("error", err))
		}
	}

	gatewayCtx, gatewayCancel := context.WithTimeout(ctx, 10*time.Second)
	defer gatewayCancel()
	if err = b.Client.OpenGateway(gatewayCtx); err != nil {
		logger.LogError("Failed to open gateway", err)
		os.Exit(-1)
	}

	logger.LogSystem("Auction bot is running. Press CTRL-C to exit.")
	s := make(chan os.Signal, 1)
	signal.Notify(s, syscall.SIGINT, syscall.SIGTERM)
	<-s

	logger.LogSystem("Shutting down auction bot...")
	cancel()
}
