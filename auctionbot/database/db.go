package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/disgoorg/auction-bot/auctionbot/database/models"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultBusyTimeout = 5 * time.Second
)

type DBConfig struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration

	// Postgres only
	Host     string
	Port     int
	User     string
	Password string
	Database string
	PoolSize int
}

type DB struct {
	bunDB  *bun.DB
	pool   *pgxpool.Pool
	driver string
}

// New opens the configured store. SQLite is the default; Postgres goes through
// a pgx pool wrapped as database/sql so bun can share it.
func New(ctx context.Context, cfg DBConfig) (*DB, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		return openSQLite(ctx, cfg)
	case DriverPostgres:
		return openPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func openSQLite(ctx context.Context, cfg DBConfig) (*DB, error) {
	dsn := cfg.Path
	if dsn == "" {
		dsn = ":memory:"
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite allows a single writer; one pooled connection keeps pragmas and
	// in-memory databases bound to the same handle.
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	sqldb.SetConnMaxLifetime(0)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=10000",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busy.Milliseconds()),
	}
	for _, pragma := range pragmas {
		if _, err = sqldb.ExecContext(ctx, pragma); err != nil {
			sqldb.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return &DB{
		bunDB:  bun.NewDB(sqldb, sqlitedialect.New()),
		driver: DriverSQLite,
	}, nil
}

func openPostgres(ctx context.Context, cfg DBConfig) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(buildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.PoolSize > 0 {
		poolConfig.MaxConns = int32(cfg.PoolSize)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database server unreachable: %w", err)
	}

	sqldb := stdlib.OpenDBFromPool(pool)
	return &DB{
		bunDB:  bun.NewDB(sqldb, pgdialect.New()),
		pool:   pool,
		driver: DriverPostgres,
	}, nil
}

func buildConnString(cfg DBConfig) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?connect_timeout=5",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
	)
}

func (db *DB) BunDB() *bun.DB {
	return db.bunDB
}

func (db *DB) Driver() string {
	return db.driver
}

func (db *DB) Ping(ctx context.Context) error {
	return db.bunDB.PingContext(ctx)
}

func (db *DB) Close() {
	if err := db.bunDB.Close(); err != nil {
		slog.Error("Failed to close database", slog.String("type", "db"), slog.Any("error", err))
	}
	if db.pool != nil {
		db.pool.Close()
	}
}

// InitializeSchema creates the auction tables and their indexes if missing.
func (db *DB) InitializeSchema(ctx context.Context) error {
	start := time.Now()

	if _, err := db.bunDB.NewCreateTable().
		Model((*models.Auction)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create auctions table: %w", err)
	}

	if _, err := db.bunDB.NewCreateTable().
		Model((*models.Bid)(nil)).
		IfNotExists().
		ForeignKey(`("auction_id") REFERENCES "auctions" ("id") ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create bids table: %w", err)
	}

	indexes := []struct {
		model   any
		name    string
		columns []string
	}{
		{(*models.Auction)(nil), "idx_auctions_status", []string{"status"}},
		{(*models.Auction)(nil), "idx_auctions_end_time", []string{"end_time"}},
		{(*models.Auction)(nil), "idx_auctions_guild_status", []string{"guild_id", "status"}},
		{(*models.Auction)(nil), "idx_auctions_creator", []string{"creator_id"}},
		{(*models.Auction)(nil), "idx_auctions_message", []string{"message_id"}},
		{(*models.Bid)(nil), "idx_bids_auction_created", []string{"auction_id", "created_at"}},
		{(*models.Bid)(nil), "idx_bids_bidder", []string{"bidder_id"}},
	}
	for _, idx := range indexes {
		if _, err := db.bunDB.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}

	slog.Info("Database schema ready",
		slog.String("type", "db"),
		slog.String("driver", db.driver),
		slog.Duration("took", time.Since(start)))
	return nil
}
