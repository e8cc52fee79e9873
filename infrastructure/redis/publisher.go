package redis

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/spooky-finn/go-orderbook-sync/domain"
)

const bufferSize = 1024

// Client is the subset of redis used by the publisher; *goredis.Client
// satisfies it through NewClient.
type Client interface {
	HSet(ctx context.Context, key string, values ...any) error
}

type clientAdapter struct {
	rdb *goredis.Client
}

func (c clientAdapter) HSet(ctx context.Context, key string, values ...any) error {
	return c.rdb.HSet(ctx, key, values...).Err()
}

func NewClient(addr, password string, db int) Client {
	return clientAdapter{rdb: goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

type topOfBook struct {
	Bid, BidQty string
	Ask, AskQty string
}

type publication struct {
	key  string
	top  topOfBook
	view *domain.OrderBookSnapshot
}

// TopOfBookPublisher mirrors the best bid and ask of every published view
// into a redis hash:
//
//	Key:    book:{provider}:{symbol}
//	Fields: bid, bid_qty, ask, ask_qty, last_update_id, ts
//
// OnDepth never blocks; when the buffer is full the publication is dropped.
// Unchanged top of book is not written again.
type TopOfBookPublisher struct {
	client Client
	buf    chan publication
	logger zerolog.Logger
	now    func() time.Time

	mu   sync.Mutex
	last map[string]topOfBook
}

func NewTopOfBookPublisher(client Client, logger zerolog.Logger) *TopOfBookPublisher {
	return &TopOfBookPublisher{
		client: client,
		buf:    make(chan publication, bufferSize),
		logger: logger.With().Str("component", "redis").Logger(),
		now:    time.Now,
		last:   make(map[string]topOfBook),
	}
}

func (p *TopOfBookPublisher) OnDepth(provider string, symbol *domain.MarketSymbol, view *domain.OrderBookSnapshot) {
	pub := publication{
		key:  fmt.Sprintf("book:%s:%s", provider, symbol.String()),
		top:  bestLevels(view),
		view: view,
	}

	for {
		select {
		case p.buf <- pub:
			return
		default:
		}
		// full: the oldest publication goes, the newest top of book must reach redis
		select {
		case <-p.buf:
		default:
		}
	}
}

// Run flushes publications to redis until ctx is cancelled.
func (p *TopOfBookPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pub := <-p.buf:
			p.write(ctx, pub)
		}
	}
}

func (p *TopOfBookPublisher) write(ctx context.Context, pub publication) {
	p.mu.Lock()
	prev, exists := p.last[pub.key]
	if exists && prev == pub.top {
		p.mu.Unlock()
		return
	}
	p.last[pub.key] = pub.top
	p.mu.Unlock()

	err := p.client.HSet(ctx, pub.key,
		"bid", pub.top.Bid,
		"bid_qty", pub.top.BidQty,
		"ask", pub.top.Ask,
		"ask_qty", pub.top.AskQty,
		"last_update_id", strconv.FormatUint(pub.view.LastUpdateID, 10),
		"ts", strconv.FormatInt(p.now().UnixMilli(), 10),
	)
	if err != nil {
		p.logger.Warn().Err(err).Str("key", pub.key).Msg("failed to write top of book")
		// forget it so the next publication retries
		p.mu.Lock()
		delete(p.last, pub.key)
		p.mu.Unlock()
	}
}

// Views are ordered best first; an empty side is written as "0".
func bestLevels(view *domain.OrderBookSnapshot) topOfBook {
	top := topOfBook{Bid: "0", BidQty: "0", Ask: "0", AskQty: "0"}
	if len(view.Bids) > 0 {
		top.Bid = view.Bids[0].Price.String()
		top.BidQty = view.Bids[0].Qty.String()
	}
	if len(view.Asks) > 0 {
		top.Ask = view.Asks[0].Price.String()
		top.AskQty = view.Asks[0].Qty.String()
	}
	return top
}
