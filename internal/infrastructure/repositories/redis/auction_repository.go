package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"livebid/internal/core/domain"
	"livebid/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// AuctionRepository stores auctions as hashes and the bid ledger as a sorted
// set scored by amount. The price compare-and-set and the ledger append run
// inside one Lua script so the ledger maximum can never drift away from
// current_price.
type AuctionRepository struct {
	client *redis.Client
	prefix string
}

func NewAuctionRepository(client *redis.Client) *AuctionRepository {
	return &AuctionRepository{
		client: client,
		prefix: "livebid:",
	}
}

func (r *AuctionRepository) auctionKey(id domain.AuctionID) string {
	return r.prefix + "auction:" + string(id)
}

func (r *AuctionRepository) activeSessionKey(sessionID domain.SessionID) string {
	return r.prefix + "auction:active:" + string(sessionID)
}

func (r *AuctionRepository) activeSetKey() string {
	return r.prefix + "auctions:active"
}

func (r *AuctionRepository) ledgerKey(id domain.AuctionID) string {
	return r.prefix + "bids:" + string(id)
}

func (r *AuctionRepository) Create(ctx context.Context, auction *domain.Auction) error {
	// The per-session active marker is the "at most one active auction"
	// guard; SETNX loses for the second concurrent starter.
	ok, err := r.client.SetNX(ctx, r.activeSessionKey(auction.SessionID), string(auction.ID), 0).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve active auction slot: %w", err)
	}
	if !ok {
		return domain.ErrAuctionActive
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.auctionKey(auction.ID), auctionFields(auction))
	pipe.SAdd(ctx, r.activeSetKey(), string(auction.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		r.client.Del(ctx, r.activeSessionKey(auction.SessionID))
		return fmt.Errorf("failed to write auction: %w", err)
	}
	return nil
}

func (r *AuctionRepository) GetByID(ctx context.Context, id domain.AuctionID) (*domain.Auction, error) {
	fields, err := r.client.HGetAll(ctx, r.auctionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get auction from Redis: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrAuctionNotFound
	}
	return auctionFromFields(fields)
}

func (r *AuctionRepository) GetActiveBySession(ctx context.Context, sessionID domain.SessionID) (*domain.Auction, error) {
	id, err := r.client.Get(ctx, r.activeSessionKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, domain.ErrAuctionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active auction id: %w", err)
	}
	return r.GetByID(ctx, domain.AuctionID(id))
}

func (r *AuctionRepository) ListActive(ctx context.Context) ([]*domain.Auction, error) {
	ids, err := r.client.SMembers(ctx, r.activeSetKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active auctions: %w", err)
	}

	var auctions []*domain.Auction
	for _, id := range ids {
		auction, err := r.GetByID(ctx, domain.AuctionID(id))
		if err != nil {
			continue
		}
		if auction.IsActive() {
			auctions = append(auctions, auction)
		}
	}
	return auctions, nil
}

// applyBidScript: compare current_price against the expected value and, only
// on match, advance price+leader and append the bid to the ledger.
// Returns 1 applied, 0 stale, -1 not active, -2 missing.
var applyBidScript = redis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if not status then return -2 end
if status ~= "active" then return -1 end
local cur = tonumber(redis.call("HGET", KEYS[1], "current_price"))
if cur ~= tonumber(ARGV[1]) then return 0 end
redis.call("HSET", KEYS[1], "current_price", ARGV[2], "leader_id", ARGV[3])
redis.call("ZADD", KEYS[2], tonumber(ARGV[2]), ARGV[4])
return 1
`)

func (r *AuctionRepository) ApplyBid(ctx context.Context, auctionID domain.AuctionID, expectedPrice int64, bid *domain.Bid) error {
	data, err := json.Marshal(bid)
	if err != nil {
		return fmt.Errorf("failed to marshal bid: %w", err)
	}

	res, err := applyBidScript.Run(ctx, r.client,
		[]string{r.auctionKey(auctionID), r.ledgerKey(auctionID)},
		expectedPrice, bid.Amount, string(bid.BidderID), data,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to apply bid: %w", err)
	}

	switch res {
	case 1:
		return nil
	case 0:
		return domain.ErrStalePrice
	case -1:
		return domain.ErrAuctionEnded
	default:
		return domain.ErrAuctionNotFound
	}
}

// markEndedScript flips an active auction to ended and clears the session's
// active marker. Returns 1 when this call performed the flip.
var markEndedScript = redis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if not status then return -2 end
if status ~= "active" then return 0 end
redis.call("HSET", KEYS[1], "status", "ended")
redis.call("DEL", KEYS[2])
redis.call("SREM", KEYS[3], ARGV[1])
return 1
`)

func (r *AuctionRepository) MarkEnded(ctx context.Context, auctionID domain.AuctionID) (bool, error) {
	auction, err := r.GetByID(ctx, auctionID)
	if err != nil {
		return false, err
	}

	res, err := markEndedScript.Run(ctx, r.client,
		[]string{
			r.auctionKey(auctionID),
			r.activeSessionKey(auction.SessionID),
			r.activeSetKey(),
		},
		string(auctionID),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to end auction: %w", err)
	}
	if res == -2 {
		return false, domain.ErrAuctionNotFound
	}
	return res == 1, nil
}

func (r *AuctionRepository) RecordWinner(ctx context.Context, auctionID domain.AuctionID, winnerID domain.UserID, amount int64) error {
	err := r.client.HSet(ctx, r.auctionKey(auctionID),
		"winner_id", string(winnerID),
		"winning_bid", amount,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to record winner: %w", err)
	}
	return nil
}

// Max returns the highest-amount ledger entry, the source of truth for
// winner resolution.
func (r *AuctionRepository) Max(ctx context.Context, auctionID domain.AuctionID) (*domain.Bid, error) {
	members, err := r.client.ZRevRangeWithScores(ctx, r.ledgerKey(auctionID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger max: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	var bid domain.Bid
	if err := json.Unmarshal([]byte(members[0].Member.(string)), &bid); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ledger entry: %w", err)
	}
	return &bid, nil
}

func (r *AuctionRepository) Count(ctx context.Context, auctionID domain.AuctionID) (int64, error) {
	n, err := r.client.ZCard(ctx, r.ledgerKey(auctionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}
	return n, nil
}

func auctionFields(a *domain.Auction) map[string]interface{} {
	return map[string]interface{}{
		"id":             string(a.ID),
		"session_id":     string(a.SessionID),
		"product_id":     string(a.ProductID),
		"starting_price": a.StartingPrice,
		"current_price":  a.CurrentPrice,
		"leader_id":      string(a.CurrentLeaderID),
		"status":         string(a.Status),
		"deadline_ms":    a.DeadlineAt.UnixMilli(),
		"created_ms":     a.CreatedAt.UnixMilli(),
	}
}

func auctionFromFields(fields map[string]string) (*domain.Auction, error) {
	parseInt := func(key string) int64 {
		v, _ := strconv.ParseInt(fields[key], 10, 64)
		return v
	}

	auction := &domain.Auction{
		ID:              domain.AuctionID(fields["id"]),
		SessionID:       domain.SessionID(fields["session_id"]),
		ProductID:       domain.ProductID(fields["product_id"]),
		StartingPrice:   parseInt("starting_price"),
		CurrentPrice:    parseInt("current_price"),
		CurrentLeaderID: domain.UserID(fields["leader_id"]),
		Status:          domain.AuctionStatus(fields["status"]),
		WinnerID:        domain.UserID(fields["winner_id"]),
		WinningBid:      parseInt("winning_bid"),
		DeadlineAt:      time.UnixMilli(parseInt("deadline_ms")),
		CreatedAt:       time.UnixMilli(parseInt("created_ms")),
	}
	if auction.Status == "" {
		return nil, fmt.Errorf("auction record missing status")
	}
	return auction, nil
}

var _ ports.AuctionRepository = (*AuctionRepository)(nil)
var _ ports.BidLedger = (*AuctionRepository)(nil)
