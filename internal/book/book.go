package book

import (
	"context"

	"go.uber.org/zap"

	"github.com/parlay-systems/parlay/internal/replication"
)

// Side identifies one of the two complementary outcome positions of a
// binary market.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// PriceLevel is a single (price, quantity) entry used for best-of-book
// reporting. Price is integer cents in [0,100]; quantity is a contract
// count. Values are recomputed, never mutated in place.
type PriceLevel struct {
	Price    int
	Quantity int
}

// ConsolidatedBook is a single-sided view of a market: native bids of the
// chosen perspective plus the opposite side's bids transformed through the
// complementary-price identity (yes_price + no_price = 100).
type ConsolidatedBook struct {
	Bids   map[int]int
	Offers map[int]int
}

// Publisher receives the materialized full state of a book after every
// mutation. Satisfied by replication.Hub and replication.Kafka.
type Publisher interface {
	Publish(ctx context.Context, rec replication.Record) error
}

// OrderBook holds the mutable per-market state: one price→quantity mapping
// per side. Neither mapping ever contains a zero- or negative-quantity
// entry; a level whose quantity reaches zero is removed. Best-of-book is
// recomputed after every mutation and never stale.
//
// An OrderBook is owned by a single processing goroutine and is not safe
// for concurrent use. Downstream readers observe it only through the
// replication records it publishes, which carry independent copies.
type OrderBook struct {
	ticker string
	yes    map[int]int
	no     map[int]int

	bestYes *PriceLevel
	bestNo  *PriceLevel

	pub Publisher
	log *zap.Logger
}

// NewFromSnapshot constructs a book for ticker from two collections of
// [price, quantity] pairs, as delivered by an orderbook_snapshot message.
// Entries with non-positive quantity are dropped during ingestion; upstream
// should not send them, but the book tolerates it. The resulting full state
// is published to pub.
func NewFromSnapshot(ctx context.Context, ticker string, yes, no [][2]int, pub Publisher, log *zap.Logger) *OrderBook {
	b := &OrderBook{
		ticker: ticker,
		pub:    pub,
		log:    log,
	}
	b.ApplySnapshot(ctx, yes, no)
	return b
}

// FromRecord rebuilds a book from a replication record: the consumer-side
// counterpart of Record. The rebuilt book has no publisher attached, so
// mutating it never feeds back into replication.
func FromRecord(rec replication.Record, log *zap.Logger) *OrderBook {
	b := &OrderBook{
		ticker: rec.MarketTicker,
		yes:    make(map[int]int, len(rec.Yes)),
		no:     make(map[int]int, len(rec.No)),
		log:    log,
	}
	for price, qty := range rec.Yes {
		if qty > 0 {
			b.yes[price] = qty
		}
	}
	for price, qty := range rec.No {
		if qty > 0 {
			b.no[price] = qty
		}
	}
	b.updateTopOfBook()
	return b
}

// Ticker returns the unique market identifier this book belongs to.
func (b *OrderBook) Ticker() string { return b.ticker }

// ApplySnapshot fully replaces both sides from [price, quantity] pairs,
// recomputes best-of-book, and publishes the new materialized state.
func (b *OrderBook) ApplySnapshot(ctx context.Context, yes, no [][2]int) {
	b.yes = levelsFromPairs(yes)
	b.no = levelsFromPairs(no)
	b.updateTopOfBook()
	b.publish(ctx)
}

// ApplyDelta applies a signed quantity change to exactly one (side, price)
// cell. It fails with ErrInvalidSide for an unknown side and with
// ErrNegativeQuantity if the level would go below zero, leaving state
// unchanged in both cases. A level brought to exactly zero is removed.
// On success the new full state is published.
func (b *OrderBook) ApplyDelta(ctx context.Context, side Side, price, delta int) error {
	var levels map[int]int
	switch side {
	case SideYes:
		levels = b.yes
	case SideNo:
		levels = b.no
	default:
		return ErrInvalidSide
	}

	current := levels[price]
	next := current + delta
	if next < 0 {
		return ErrNegativeQuantity
	}

	if next == 0 {
		delete(levels, price)
	} else {
		levels[price] = next
	}

	b.log.Debug("level updated",
		zap.String("ticker", b.ticker),
		zap.String("side", string(side)),
		zap.Int("price", price),
		zap.Int("quantity", next))

	b.updateTopOfBook()
	b.publish(ctx)
	return nil
}

// Best returns the cached best-of-book for both sides: the max-price yes
// level and the min-price no level. Either is nil when its side is empty.
// The returned values are copies.
func (b *OrderBook) Best() (yes, no *PriceLevel) {
	if b.bestYes != nil {
		v := *b.bestYes
		yes = &v
	}
	if b.bestNo != nil {
		v := *b.bestNo
		no = &v
	}
	return yes, no
}

// Consolidated returns the single-sided view from the given perspective:
// bids are the chosen side's levels, offers are the opposite side's levels
// re-priced through 100-p. A no bid at price p is an equivalent yes offer
// at 100-p. Pure function of current state.
func (b *OrderBook) Consolidated(perspective Side) (ConsolidatedBook, error) {
	var bids, alt map[int]int
	switch perspective {
	case SideYes:
		bids, alt = b.yes, b.no
	case SideNo:
		bids, alt = b.no, b.yes
	default:
		return ConsolidatedBook{}, ErrInvalidSide
	}

	out := ConsolidatedBook{
		Bids:   make(map[int]int, len(bids)),
		Offers: make(map[int]int, len(alt)),
	}
	for price, qty := range bids {
		out.Bids[price] = qty
	}
	for price, qty := range alt {
		out.Offers[100-price] = qty
	}
	return out, nil
}

// Record builds the full-state replication record for the current book.
// The level maps are independent copies; no mutable state crosses the
// publish boundary.
func (b *OrderBook) Record() replication.Record {
	rec := replication.Record{
		MarketTicker: b.ticker,
		Yes:          make(map[int]int, len(b.yes)),
		No:           make(map[int]int, len(b.no)),
	}
	for price, qty := range b.yes {
		rec.Yes[price] = qty
	}
	for price, qty := range b.no {
		rec.No[price] = qty
	}
	return rec
}

func (b *OrderBook) publish(ctx context.Context) {
	if b.pub == nil {
		return
	}
	if err := b.pub.Publish(ctx, b.Record()); err != nil {
		// Replication failures must not corrupt or stall ingestion.
		b.log.Warn("replication publish failed",
			zap.String("ticker", b.ticker), zap.Error(err))
	}
}

func (b *OrderBook) updateTopOfBook() {
	b.bestYes = nil
	for price, qty := range b.yes {
		if b.bestYes == nil || price > b.bestYes.Price {
			b.bestYes = &PriceLevel{Price: price, Quantity: qty}
		}
	}

	b.bestNo = nil
	for price, qty := range b.no {
		if b.bestNo == nil || price < b.bestNo.Price {
			b.bestNo = &PriceLevel{Price: price, Quantity: qty}
		}
	}
}

func levelsFromPairs(pairs [][2]int) map[int]int {
	levels := make(map[int]int, len(pairs))
	for _, p := range pairs {
		if p[1] <= 0 {
			continue
		}
		levels[p[0]] = p[1]
	}
	return levels
}
