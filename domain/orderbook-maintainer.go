package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	ResyncReason_Gap        = "gap"
	ResyncReason_Unscalable = "unscalable"
	ResyncReason_Replay     = "replay"
	ResyncReason_Snapshot   = "snapshot"
)

type MaintainerConfig struct {
	Provider string
	// depth requested from the provider snapshot endpoint
	SnapshotLimit int
	// depth of every published view
	TopN int

	ScalerOptions []ScalerOption

	ResyncBackoff     time.Duration
	MaxResyncAttempts int
}

// MaintainerMetrics is implemented by the prometheus infrastructure.
type MaintainerMetrics interface {
	ObserveOutcome(provider string, symbol *MarketSymbol, outcome SyncOutcome)
	ObserveResync(provider string, symbol *MarketSymbol, reason string)
	ObserveBook(provider string, symbol *MarketSymbol, lastUpdateID uint64, bids, asks int)
}

type MaintainerOption func(*OrderbookMaintainer)

func WithDepthListener(l DepthListener) MaintainerOption {
	return func(m *OrderbookMaintainer) {
		m.listeners = append(m.listeners, l)
	}
}

func WithMetrics(metrics MaintainerMetrics) MaintainerOption {
	return func(m *OrderbookMaintainer) {
		m.metrics = metrics
	}
}

// WithStatusHook is called from the maintainer goroutine on every status change.
func WithStatusHook(hook func(SyncStatus)) MaintainerOption {
	return func(m *OrderbookMaintainer) {
		m.onStatusChange = hook
	}
}

// OrderbookMaintainer keeps one local order book in sync with a provider.
// It owns the SyncState and the OrderBook; both are only touched from Run.
type OrderbookMaintainer struct {
	cfg       MaintainerConfig
	symbol    *MarketSymbol
	syncAPI   ProviderSyncAPI
	streamAPI ProviderStreamAPI
	storage   *OrderBookStorage

	listeners      []DepthListener
	metrics        MaintainerMetrics
	onStatusChange func(SyncStatus)
	logger         zerolog.Logger

	scaler    *Scaler
	sync      *SyncState
	orderBook *OrderBook
	sessionID string
	status    SyncStatus

	// consecutive failed attempts to get a consistent book
	attempts int
}

type snapshotResult struct {
	snapshot *OrderBookSnapshot
	err      error
}

func NewOrderBookMaintainer(
	symbol *MarketSymbol,
	stream ProviderStreamAPI,
	syncAPI ProviderSyncAPI,
	storage *OrderBookStorage,
	cfg MaintainerConfig,
	logger zerolog.Logger,
	opts ...MaintainerOption,
) *OrderbookMaintainer {
	if cfg.SnapshotLimit <= 0 {
		cfg.SnapshotLimit = 1000
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 20
	}
	if cfg.MaxResyncAttempts <= 0 {
		cfg.MaxResyncAttempts = 5
	}

	m := &OrderbookMaintainer{
		cfg:       cfg,
		symbol:    symbol,
		syncAPI:   syncAPI,
		streamAPI: stream,
		storage:   storage,
		logger: logger.With().
			Str("component", "maintainer").
			Str("provider", cfg.Provider).
			Str("symbol", symbol.String()).
			Logger(),
		sync:   NewSyncState(),
		status: SyncStatus_Uninitialized,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Run subscribes to the depth stream, builds the book from a snapshot and
// keeps it current until ctx is done, the stream closes, or the book cannot
// be rebuilt after MaxResyncAttempts consecutive failures.
func (m *OrderbookMaintainer) Run(ctx context.Context) error {
	subscription, err := m.streamAPI.DepthDiffStream(m.symbol)
	if err != nil {
		return fmt.Errorf("subscribe to depth update stream: %w", err)
	}
	defer subscription.Unsubscribe()
	m.logger.Info().Str("topic", subscription.Topic).Msg("subscribed to depth update stream")

	granularity, err := m.syncAPI.Granularity(ctx, m.symbol)
	if err != nil {
		return fmt.Errorf("fetch granularity: %w", err)
	}
	m.scaler, err = NewScalerFromGranularity(granularity, m.cfg.ScalerOptions...)
	if err != nil {
		return err
	}
	m.logger.Debug().
		Stringer("tickSize", m.scaler.TickSize()).
		Stringer("stepSize", m.scaler.StepSize()).
		Msg("scaler ready")

	// nil while no snapshot request is in flight
	var snapshots <-chan snapshotResult

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case update, ok := <-subscription.Stream:
			if !ok {
				return ErrStreamClosed
			}

			if err := m.processUpdate(update); err != nil {
				return err
			}

			// the first buffered update proves the stream is live, only then ask for a snapshot
			if m.sync.Status() == SyncStatus_Uninitialized && snapshots == nil {
				snapshots = m.fetchSnapshot(ctx, m.backoff())
			}

		case res := <-snapshots:
			snapshots = nil

			err := res.err
			if err == nil {
				err = m.installSnapshot(res.snapshot)
			}
			if err == nil {
				m.attempts = 0
				continue
			}

			m.attempts++
			if m.attempts >= m.cfg.MaxResyncAttempts {
				return fmt.Errorf("order book for %s not rebuilt after %d attempts: %w", m.symbol, m.attempts, err)
			}
			m.logger.Warn().Err(err).Int("attempt", m.attempts).Msg("snapshot not usable, refetching")
			snapshots = m.fetchSnapshot(ctx, m.backoff())
		}
	}
}

// Status is only meaningful from the goroutine running Run; others should use WithStatusHook.
func (m *OrderbookMaintainer) Status() SyncStatus {
	return m.status
}

func (m *OrderbookMaintainer) processUpdate(update *DepthUpdate) error {
	outcome, err := m.sync.ProcessDelta(update)
	m.observeOutcome(outcome)

	switch outcome {
	case SyncOutcome_Buffered:
		return nil

	case SyncOutcome_Stale:
		m.logger.Debug().
			Uint64("U", update.FirstUpdateID).
			Uint64("u", update.FinalUpdateID).
			Msg("dropped outdated update")
		return nil

	case SyncOutcome_Gap:
		m.logger.Warn().Err(err).Msg("gap in depth updates, resynchronizing")
		m.setStatus(SyncStatus_Desynchronized)
		m.resync(ResyncReason_Gap, update)
		return nil

	case SyncOutcome_Applied:
		if err := m.orderBook.ApplyUpdate(update, m.scaler); err != nil {
			m.logger.Error().Err(err).Msg("update could not be applied, resynchronizing")
			m.resync(ResyncReason_Unscalable, update)
			return nil
		}
		m.publish()
		return nil
	}

	return fmt.Errorf("unexpected sync outcome %s", outcome)
}

// installSnapshot replaces the book and replays every buffered update
// through the sync state. On failure the state is reset with the not yet
// replayed updates buffered again.
func (m *OrderbookMaintainer) installSnapshot(snapshot *OrderBookSnapshot) error {
	book, err := NewOrderBookFromSnapshot(snapshot, m.scaler)
	if err != nil {
		// still uninitialized, the buffer is kept for the next snapshot
		if m.metrics != nil {
			m.metrics.ObserveResync(m.cfg.Provider, m.symbol, ResyncReason_Snapshot)
		}
		return err
	}

	m.orderBook = book
	m.sync.SetLastUpdateID(snapshot.LastUpdateID)
	m.sessionID = uuid.NewString()

	buffered := m.sync.DrainBuffer()
	for i, update := range buffered {
		outcome, err := m.sync.ProcessDelta(update)
		m.observeOutcome(outcome)

		if err == nil && outcome == SyncOutcome_Applied {
			err = book.ApplyUpdate(update, m.scaler)
		}
		if err != nil {
			if errors.Is(err, ErrSequenceGap) {
				err = fmt.Errorf("snapshot %d is older than buffered updates: %w", snapshot.LastUpdateID, err)
			}
			m.resync(ResyncReason_Replay, buffered[i:]...)
			return err
		}
	}

	m.logger.Info().
		Uint64("lastUpdateId", book.LastUpdateID).
		Int("replayed", len(buffered)).
		Str("session", m.sessionID).
		Msg("order book synchronized")

	m.setStatus(SyncStatus_Synchronized)
	m.publish()
	return nil
}

// resync discards the book and returns the sync state to Uninitialized,
// buffering pending so they can be replayed on top of the next snapshot.
func (m *OrderbookMaintainer) resync(reason string, pending ...*DepthUpdate) {
	if m.metrics != nil {
		m.metrics.ObserveResync(m.cfg.Provider, m.symbol, reason)
	}

	m.orderBook = nil
	m.sessionID = ""
	m.storage.Remove(m.cfg.Provider, m.symbol)

	m.sync.Reset()
	for _, update := range pending {
		_, _ = m.sync.ProcessDelta(update)
	}
	m.setStatus(SyncStatus_Uninitialized)
}

func (m *OrderbookMaintainer) publish() {
	view := m.orderBook.TakeSnapshot(m.cfg.TopN, m.scaler)
	view.SessionID = m.sessionID

	m.storage.Add(m.cfg.Provider, m.symbol, view)
	for _, l := range m.listeners {
		l.OnDepth(m.cfg.Provider, m.symbol, view)
	}

	if m.metrics != nil {
		m.metrics.ObserveBook(m.cfg.Provider, m.symbol, m.orderBook.LastUpdateID, m.orderBook.BidLen(), m.orderBook.AskLen())
	}
}

func (m *OrderbookMaintainer) fetchSnapshot(ctx context.Context, delay time.Duration) <-chan snapshotResult {
	out := make(chan snapshotResult, 1)

	go func() {
		if delay > 0 {
			select {
			case <-ctx.Done():
				out <- snapshotResult{err: ctx.Err()}
				return
			case <-time.After(delay):
			}
		}

		snapshot, err := m.syncAPI.OrderBookSnapshot(ctx, m.symbol, m.cfg.SnapshotLimit)
		out <- snapshotResult{snapshot: snapshot, err: err}
	}()

	return out
}

func (m *OrderbookMaintainer) backoff() time.Duration {
	return m.cfg.ResyncBackoff * time.Duration(m.attempts)
}

func (m *OrderbookMaintainer) setStatus(status SyncStatus) {
	if m.status == status {
		return
	}

	m.status = status
	if m.onStatusChange != nil {
		m.onStatusChange(status)
	}
}

func (m *OrderbookMaintainer) observeOutcome(outcome SyncOutcome) {
	if m.metrics != nil {
		m.metrics.ObserveOutcome(m.cfg.Provider, m.symbol, outcome)
	}
}
