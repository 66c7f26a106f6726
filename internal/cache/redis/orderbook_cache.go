package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/depthsim/internal/domain"
)

// OrderbookCache implements domain.OrderbookCache using Redis sorted sets and
// hashes for each target's latest book.
//
// Key schema ({key} is "exchange:symbol"):
//
//	book:{key}:bids      - sorted set of bid prices (score = price)
//	book:{key}:asks      - sorted set of ask prices (score = price)
//	book:{key}:bid:size  - hash mapping price -> quantity for bids
//	book:{key}:ask:size  - hash mapping price -> quantity for asks
//	book:{key}:meta      - hash with "ts" (observed-at, unix ms)
//
// Only prices and quantities are stored; cumulative and depth fields are
// derived again by the reader.
type OrderbookCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewOrderbookCache creates an OrderbookCache backed by the given Client.
// A positive ttl expires books that stop being refreshed.
func NewOrderbookCache(c *Client, ttl time.Duration) *OrderbookCache {
	return &OrderbookCache{rdb: c.Underlying(), ttl: ttl}
}

type bookKeys struct {
	bids, asks, bidSize, askSize, meta string
}

func keysFor(target domain.SubscriptionTarget) bookKeys {
	prefix := "book:" + target.Key()
	return bookKeys{
		bids:    prefix + ":bids",
		asks:    prefix + ":asks",
		bidSize: prefix + ":bid:size",
		askSize: prefix + ":ask:size",
		meta:    prefix + ":meta",
	}
}

func (k bookKeys) all() []string {
	return []string{k.bids, k.asks, k.bidSize, k.askSize, k.meta}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// SetBook atomically replaces the stored book for target.
func (oc *OrderbookCache) SetBook(ctx context.Context, target domain.SubscriptionTarget, book domain.OrderBook) error {
	k := keysFor(target)
	pipe := oc.rdb.TxPipeline()

	pipe.Del(ctx, k.all()...)

	for _, lvl := range book.Bids {
		price := formatFloat(lvl.Price)
		pipe.ZAdd(ctx, k.bids, redis.Z{Score: lvl.Price, Member: price})
		pipe.HSet(ctx, k.bidSize, price, formatFloat(lvl.Quantity))
	}
	for _, lvl := range book.Asks {
		price := formatFloat(lvl.Price)
		pipe.ZAdd(ctx, k.asks, redis.Z{Score: lvl.Price, Member: price})
		pipe.HSet(ctx, k.askSize, price, formatFloat(lvl.Quantity))
	}
	pipe.HSet(ctx, k.meta, "ts", strconv.FormatInt(book.ObservedAtMillis, 10))

	if oc.ttl > 0 {
		for _, key := range k.all() {
			pipe.Expire(ctx, key, oc.ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book %s: %w", target, err)
	}
	return nil
}

// GetBook reads the stored book for target, bids best-first descending and
// asks ascending. It returns domain.ErrNotFound if nothing is stored.
func (oc *OrderbookCache) GetBook(ctx context.Context, target domain.SubscriptionTarget) (domain.OrderBook, error) {
	k := keysFor(target)
	pipe := oc.rdb.Pipeline()

	bidsCmd := pipe.ZRevRangeWithScores(ctx, k.bids, 0, -1)
	asksCmd := pipe.ZRangeWithScores(ctx, k.asks, 0, -1)
	bidSizeCmd := pipe.HGetAll(ctx, k.bidSize)
	askSizeCmd := pipe.HGetAll(ctx, k.askSize)
	metaCmd := pipe.HGetAll(ctx, k.meta)

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.OrderBook{}, fmt.Errorf("redis: get book %s: %w", target, err)
	}

	meta, _ := metaCmd.Result()
	if len(meta) == 0 {
		return domain.OrderBook{}, domain.ErrNotFound
	}

	var book domain.OrderBook
	if ts, err := strconv.ParseInt(meta["ts"], 10, 64); err == nil {
		book.ObservedAtMillis = ts
	}

	bidSizes, _ := bidSizeCmd.Result()
	bidsZ, _ := bidsCmd.Result()
	book.Bids = levelsFrom(bidsZ, bidSizes)

	askSizes, _ := askSizeCmd.Result()
	asksZ, _ := asksCmd.Result()
	book.Asks = levelsFrom(asksZ, askSizes)

	return book, nil
}

// Delete removes the stored book for target.
func (oc *OrderbookCache) Delete(ctx context.Context, target domain.SubscriptionTarget) error {
	if err := oc.rdb.Del(ctx, keysFor(target).all()...).Err(); err != nil {
		return fmt.Errorf("redis: delete book %s: %w", target, err)
	}
	return nil
}

func levelsFrom(zs []redis.Z, sizes map[string]string) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(zs))
	for _, z := range zs {
		price, ok := z.Member.(string)
		if !ok {
			continue
		}
		qty, _ := strconv.ParseFloat(sizes[price], 64)
		out = append(out, domain.PriceLevel{Price: z.Score, Quantity: qty})
	}
	return out
}

// Compile-time interface check.
var _ domain.OrderbookCache = (*OrderbookCache)(nil)
