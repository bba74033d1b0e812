package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/disgoorg/auction-bot/auctionbot/database/models"
	"github.com/uptrace/bun"
)

// BidUpdate describes an accepted bid to persist together with the new
// auction state. The write only lands if the auction is still active, still
// open at Now and its price is still below Amount.
type BidUpdate struct {
	AuctionID int64
	BidderID  string
	Amount    int64
	Quick     bool
	EndTime   time.Time
	Extended  bool
	Now       time.Time
}

type AuctionRepository interface {
	Create(ctx context.Context, auction *models.Auction) error
	GetByID(ctx context.Context, id int64) (*models.Auction, error)
	ListActive(ctx context.Context, guildID string) ([]*models.Auction, error)
	ListExpired(ctx context.Context, now time.Time) ([]*models.Auction, error)
	ListBids(ctx context.Context, auctionID int64, limit int) ([]*models.Bid, error)
	BidStats(ctx context.Context, auctionID int64) (*models.BidStats, error)
	PlaceBid(ctx context.Context, update BidUpdate) (*models.Bid, error)
	Finalize(ctx context.Context, auctionID int64, now time.Time) (*models.Auction, error)
	Cancel(ctx context.Context, auctionID int64, now time.Time) (*models.Auction, error)
	UpdateMessage(ctx context.Context, auctionID int64, channelID, messageID string) error
}

type auctionRepository struct {
	*BaseRepository
}

func NewAuctionRepository(db *bun.DB) AuctionRepository {
	return &auctionRepository{BaseRepository: NewBaseRepository(db)}
}

func (r *auctionRepository) Create(ctx context.Context, auction *models.Auction) error {
	now := time.Now().UTC()
	if auction.CreatedAt.IsZero() {
		auction.CreatedAt = now
	}
	auction.UpdatedAt = auction.CreatedAt
	auction.Status = models.AuctionStatusActive
	auction.CurrentPrice = auction.StartingPrice
	auction.BidCount = 0
	auction.Extensions = 0
	if auction.ImageURLs == nil {
		auction.ImageURLs = []string{}
	}

	err := r.Exec(ctx, "create_auction", func(ctx context.Context) error {
		_, err := r.db.NewInsert().Model(auction).Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create auction: %w", r.HandleErrorWithID("create", "auction", auction.Title, err))
	}
	return nil
}

func (r *auctionRepository) GetByID(ctx context.Context, id int64) (*models.Auction, error) {
	ctx, cancel := r.WithTimeout(ctx)
	defer cancel()

	auction := new(models.Auction)
	err := r.db.NewSelect().
		Model(auction).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, r.HandleErrorWithID("get", "auction", id, err)
	}
	return auction, nil
}

// ListActive returns active auctions ordered by end time. An empty guildID
// lists every guild.
func (r *auctionRepository) ListActive(ctx context.Context, guildID string) ([]*models.Auction, error) {
	ctx, cancel := r.WithTimeout(ctx)
	defer cancel()

	var auctions []*models.Auction
	q := r.db.NewSelect().
		Model(&auctions).
		Where("status = ?", models.AuctionStatusActive).
		Order("end_time ASC")
	if guildID != "" {
		q = q.Where("guild_id = ?", guildID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, r.HandleErrorWithID("list_active", "auction", guildID, err)
	}
	return auctions, nil
}

func (r *auctionRepository) ListExpired(ctx context.Context, now time.Time) ([]*models.Auction, error) {
	ctx, cancel := r.WithTimeout(ctx)
	defer cancel()

	var auctions []*models.Auction
	err := r.db.NewSelect().
		Model(&auctions).
		Where("status = ?", models.AuctionStatusActive).
		Where("end_time <= ?", now.UTC()).
		Order("end_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, r.HandleErrorWithID("list_expired", "auction", nil, err)
	}
	return auctions, nil
}

// ListBids returns the newest bids first. limit <= 0 returns the full history.
func (r *auctionRepository) ListBids(ctx context.Context, auctionID int64, limit int) ([]*models.Bid, error) {
	ctx, cancel := r.WithTimeout(ctx)
	defer cancel()

	var bids []*models.Bid
	q := r.db.NewSelect().
		Model(&bids).
		Where("auction_id = ?", auctionID).
		Order("amount DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, r.HandleErrorWithID("list_bids", "bid", auctionID, err)
	}
	return bids, nil
}

func (r *auctionRepository) BidStats(ctx context.Context, auctionID int64) (*models.BidStats, error) {
	ctx, cancel := r.WithTimeout(ctx)
	defer cancel()

	stats := new(models.BidStats)
	err := r.db.NewSelect().
		Model((*models.Bid)(nil)).
		ColumnExpr("COUNT(*) AS total").
		ColumnExpr("COALESCE(SUM(CASE WHEN quick THEN 1 ELSE 0 END), 0) AS quick").
		ColumnExpr("COUNT(DISTINCT bidder_id) AS bidders").
		ColumnExpr("COALESCE(MAX(amount), 0) AS highest").
		Where("auction_id = ?", auctionID).
		Scan(ctx, stats)
	if err != nil {
		return nil, r.HandleErrorWithID("bid_stats", "bid", auctionID, err)
	}
	return stats, nil
}

// PlaceBid raises the auction price and appends the bid in one transaction.
// It returns ErrConditionFailed when the auction changed underneath the caller.
func (r *auctionRepository) PlaceBid(ctx context.Context, u BidUpdate) (*models.Bid, error) {
	bid := &models.Bid{
		AuctionID: u.AuctionID,
		BidderID:  u.BidderID,
		Amount:    u.Amount,
		Quick:     u.Quick,
		CreatedAt: u.Now.UTC(),
	}

	extension := 0
	if u.Extended {
		extension = 1
	}

	err := r.Transaction(ctx, "place_bid", func(ctx context.Context, tx bun.Tx) error {
		bid.ID = 0
		res, err := tx.NewUpdate().
			Model((*models.Auction)(nil)).
			Set("current_price = ?", u.Amount).
			Set("highest_bidder_id = ?", u.BidderID).
			Set("bid_count = bid_count + 1").
			Set("end_time = ?", u.EndTime.UTC()).
			Set("extensions = extensions + ?", extension).
			Set("updated_at = ?", u.Now.UTC()).
			Where("id = ?", u.AuctionID).
			Where("status = ?", models.AuctionStatusActive).
			Where("current_price < ?", u.Amount).
			Where("end_time > ?", u.Now.UTC()).
			Exec(ctx)
		if err != nil {
			return err
		}
		if rows, err := res.RowsAffected(); err != nil {
			return err
		} else if rows == 0 {
			return ErrConditionFailed
		}

		_, err = tx.NewInsert().Model(bid).Exec(ctx)
		return err
	})
	if err != nil {
		return nil, r.HandleErrorWithID("place_bid", "auction", u.AuctionID, err)
	}
	return bid, nil
}

// Finalize moves an active auction to ended and records the highest bidder
// as winner. Returns ErrConditionFailed if the auction was not active.
func (r *auctionRepository) Finalize(ctx context.Context, auctionID int64, now time.Time) (*models.Auction, error) {
	return r.closeAuction(ctx, "finalize", auctionID, models.AuctionStatusEnded, now)
}

// Cancel moves an active auction to cancelled without a winner.
func (r *auctionRepository) Cancel(ctx context.Context, auctionID int64, now time.Time) (*models.Auction, error) {
	return r.closeAuction(ctx, "cancel", auctionID, models.AuctionStatusCancelled, now)
}

func (r *auctionRepository) closeAuction(ctx context.Context, operation string, auctionID int64, status models.AuctionStatus, now time.Time) (*models.Auction, error) {
	auction := new(models.Auction)
	err := r.Transaction(ctx, operation, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewUpdate().
			Model((*models.Auction)(nil)).
			Set("status = ?", status).
			Set("updated_at = ?", now.UTC()).
			Where("id = ?", auctionID).
			Where("status = ?", models.AuctionStatusActive)
		if status == models.AuctionStatusEnded {
			q = q.Set("winner_id = highest_bidder_id")
		}

		res, err := q.Exec(ctx)
		if err != nil {
			return err
		}
		if rows, err := res.RowsAffected(); err != nil {
			return err
		} else if rows == 0 {
			return ErrConditionFailed
		}

		return tx.NewSelect().Model(auction).Where("id = ?", auctionID).Scan(ctx)
	})
	if err != nil {
		return nil, r.HandleErrorWithID(operation, "auction", auctionID, err)
	}
	return auction, nil
}

func (r *auctionRepository) UpdateMessage(ctx context.Context, auctionID int64, channelID, messageID string) error {
	err := r.Exec(ctx, "update_message", func(ctx context.Context) error {
		_, err := r.db.NewUpdate().
			Model((*models.Auction)(nil)).
			Set("channel_id = ?", channelID).
			Set("message_id = ?", messageID).
			Where("id = ?", auctionID).
			Exec(ctx)
		return err
	})
	return r.HandleErrorWithID("update_message", "auction", auctionID, err)
}
