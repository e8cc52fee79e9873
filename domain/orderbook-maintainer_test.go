package domain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStreamAPI struct {
	stream       chan *DepthUpdate
	unsubscribed chan struct{}
}

func newFakeStreamAPI() *fakeStreamAPI {
	return &fakeStreamAPI{
		stream:       make(chan *DepthUpdate),
		unsubscribed: make(chan struct{}),
	}
}

func (f *fakeStreamAPI) DepthDiffStream(symbol *MarketSymbol) (*Subscription[*DepthUpdate], error) {
	return &Subscription[*DepthUpdate]{
		Stream:      f.stream,
		Unsubscribe: func() { close(f.unsubscribed) },
		Topic:       symbol.Join("") + "@depth",
	}, nil
}

type fakeSyncAPI struct {
	mu        sync.Mutex
	snapshots []*OrderBookSnapshot
	err       error
	requests  int
}

func (f *fakeSyncAPI) OrderBookSnapshot(_ context.Context, _ *MarketSymbol, _ int) (*OrderBookSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests++
	if f.err != nil {
		return nil, f.err
	}
	snapshot := f.snapshots[0]
	if len(f.snapshots) > 1 {
		f.snapshots = f.snapshots[1:]
	}
	return snapshot, nil
}

func (f *fakeSyncAPI) Granularity(_ context.Context, _ *MarketSymbol) (*Granularity, error) {
	return &Granularity{
		TickSize: decimal.RequireFromString("0.01"),
		StepSize: decimal.RequireFromString("0.0001"),
	}, nil
}

type viewListener chan *OrderBookSnapshot

func (l viewListener) OnDepth(_ string, _ *MarketSymbol, view *OrderBookSnapshot) {
	l <- view
}

type fakeMetrics struct {
	mu       sync.Mutex
	outcomes map[SyncOutcome]int
	resyncs  map[string]int
}

func (f *fakeMetrics) ObserveOutcome(_ string, _ *MarketSymbol, outcome SyncOutcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[outcome]++
}

func (f *fakeMetrics) ObserveResync(_ string, _ *MarketSymbol, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resyncs[reason]++
}

func (f *fakeMetrics) ObserveBook(string, *MarketSymbol, uint64, int, int) {}

type maintainerHarness struct {
	stream   *fakeStreamAPI
	syncAPI  *fakeSyncAPI
	storage  *OrderBookStorage
	views    viewListener
	metrics  *fakeMetrics
	symbol   *MarketSymbol
	statuses []SyncStatus
	statusMu sync.Mutex

	cancel context.CancelFunc
	done   chan error
}

func startMaintainer(t *testing.T, syncAPI *fakeSyncAPI, maxAttempts int) *maintainerHarness {
	t.Helper()

	h := &maintainerHarness{
		stream:  newFakeStreamAPI(),
		syncAPI: syncAPI,
		storage: NewOrderBookStorage(),
		views:   make(viewListener, 16),
		metrics: &fakeMetrics{outcomes: map[SyncOutcome]int{}, resyncs: map[string]int{}},
		symbol:  &MarketSymbol{BaseAsset: "btc", QuoteAsset: "usdt"},
		done:    make(chan error, 1),
	}

	m := NewOrderBookMaintainer(h.symbol, h.stream, syncAPI, h.storage, MaintainerConfig{
		Provider:          "binance",
		SnapshotLimit:     100,
		TopN:              5,
		MaxResyncAttempts: maxAttempts,
	}, zerolog.Nop(),
		WithDepthListener(h.views),
		WithMetrics(h.metrics),
		WithStatusHook(func(s SyncStatus) {
			h.statusMu.Lock()
			h.statuses = append(h.statuses, s)
			h.statusMu.Unlock()
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- m.Run(ctx) }()

	t.Cleanup(cancel)
	return h
}

func (h *maintainerHarness) send(t *testing.T, update *DepthUpdate) {
	t.Helper()
	select {
	case h.stream.stream <- update:
	case <-time.After(2 * time.Second):
		t.Fatal("maintainer did not consume update")
	}
}

func (h *maintainerHarness) nextView(t *testing.T) *OrderBookSnapshot {
	t.Helper()
	select {
	case view := <-h.views:
		return view
	case <-time.After(2 * time.Second):
		t.Fatal("no view published")
		return nil
	}
}

func (h *maintainerHarness) result(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("maintainer did not stop")
		return nil
	}
}

func levels(t *testing.T, raw ...[]string) []Level {
	return mustLevels(t, raw)
}

func TestOrderbookMaintainer_SyncsAndApplies(t *testing.T) {
	syncAPI := &fakeSyncAPI{snapshots: []*OrderBookSnapshot{{
		Source:       OrderBookSource_Provider,
		LastUpdateID: 100,
		Bids:         levels(t, []string{"10.00", "1.0"}, []string{"9.99", "2"}),
		Asks:         levels(t, []string{"10.01", "3"}),
	}}}
	h := startMaintainer(t, syncAPI, 3)

	// buffered until the snapshot arrives, then replayed
	h.send(t, NewDepthUpdate(99, 101, levels(t, []string{"10.00", "0.5"}), nil))

	view := h.nextView(t)
	assert.Equal(t, OrderBookSource_LocalOrderBook, view.Source)
	assert.Equal(t, uint64(101), view.LastUpdateID)
	assert.NotEmpty(t, view.SessionID)
	assert.Equal(t, [][]string{{"10", "0.5"}, {"9.99", "2"}}, FormatLevels(view.Bids))
	assert.Equal(t, [][]string{{"10.01", "3"}}, FormatLevels(view.Asks))

	// stale updates are not published
	h.send(t, NewDepthUpdate(90, 100, levels(t, []string{"10.00", "7"}), nil))
	h.send(t, NewDepthUpdate(102, 102, levels(t, []string{"10.00", "0"}), levels(t, []string{"10.02", "1"})))

	view = h.nextView(t)
	assert.Equal(t, uint64(102), view.LastUpdateID)
	assert.Equal(t, [][]string{{"9.99", "2"}}, FormatLevels(view.Bids))
	assert.Equal(t, [][]string{{"10.01", "3"}, {"10.02", "1"}}, FormatLevels(view.Asks))

	stored, err := h.storage.Get("binance", h.symbol)
	require.NoError(t, err)
	assert.Same(t, view, stored)

	h.cancel()
	assert.ErrorIs(t, h.result(t), context.Canceled)
	<-h.stream.unsubscribed

	h.metrics.mu.Lock()
	defer h.metrics.mu.Unlock()
	assert.Equal(t, 1, h.metrics.outcomes[SyncOutcome_Buffered])
	assert.Equal(t, 2, h.metrics.outcomes[SyncOutcome_Applied])
	assert.Equal(t, 1, h.metrics.outcomes[SyncOutcome_Stale])
}

func TestOrderbookMaintainer_ResyncsOnGap(t *testing.T) {
	syncAPI := &fakeSyncAPI{snapshots: []*OrderBookSnapshot{
		{LastUpdateID: 100, Bids: levels(t, []string{"10.00", "1"})},
		{LastUpdateID: 106, Bids: levels(t, []string{"11.00", "4"})},
	}}
	h := startMaintainer(t, syncAPI, 3)

	h.send(t, NewDepthUpdate(101, 101, nil, levels(t, []string{"12.00", "1"})))
	first := h.nextView(t)
	require.Equal(t, uint64(101), first.LastUpdateID)

	// 102..104 never arrive
	h.send(t, NewDepthUpdate(105, 106, levels(t, []string{"10.50", "1"}), nil))

	second := h.nextView(t)
	assert.Equal(t, uint64(106), second.LastUpdateID)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, [][]string{{"11", "4"}}, FormatLevels(second.Bids), "nothing from the first book survives")
	assert.Empty(t, second.Asks)

	h.send(t, NewDepthUpdate(107, 107, levels(t, []string{"11.00", "5"}), nil))
	third := h.nextView(t)
	assert.Equal(t, [][]string{{"11", "5"}}, FormatLevels(third.Bids))

	h.cancel()
	assert.ErrorIs(t, h.result(t), context.Canceled)

	h.statusMu.Lock()
	assert.Equal(t, []SyncStatus{
		SyncStatus_Synchronized,
		SyncStatus_Desynchronized,
		SyncStatus_Uninitialized,
		SyncStatus_Synchronized,
	}, h.statuses)
	h.statusMu.Unlock()

	h.metrics.mu.Lock()
	assert.Equal(t, 1, h.metrics.resyncs[ResyncReason_Gap])
	h.metrics.mu.Unlock()
}

func TestOrderbookMaintainer_GivesUpWhenSnapshotIsAlwaysTooOld(t *testing.T) {
	syncAPI := &fakeSyncAPI{snapshots: []*OrderBookSnapshot{
		{LastUpdateID: 10, Bids: levels(t, []string{"10.00", "1"})},
	}}
	h := startMaintainer(t, syncAPI, 3)

	h.send(t, NewDepthUpdate(50, 60, nil, nil))

	err := h.result(t)
	assert.ErrorIs(t, err, ErrSequenceGap)

	syncAPI.mu.Lock()
	assert.Equal(t, 3, syncAPI.requests)
	syncAPI.mu.Unlock()

	h.metrics.mu.Lock()
	assert.Equal(t, 3, h.metrics.resyncs[ResyncReason_Replay])
	h.metrics.mu.Unlock()
}

func TestOrderbookMaintainer_SnapshotErrors(t *testing.T) {
	fetchErr := errors.New("binance is down")
	syncAPI := &fakeSyncAPI{err: fetchErr}
	h := startMaintainer(t, syncAPI, 2)

	h.send(t, NewDepthUpdate(1, 2, nil, nil))

	assert.ErrorIs(t, h.result(t), fetchErr)
	_, err := h.storage.Get("binance", h.symbol)
	assert.Error(t, err)
}

func TestOrderbookMaintainer_StreamClosed(t *testing.T) {
	h := startMaintainer(t, &fakeSyncAPI{}, 3)

	close(h.stream.stream)

	assert.ErrorIs(t, h.result(t), ErrStreamClosed)
}
