package promclient

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spooky-finn/go-orderbook-sync/domain"
)

var (
	DeltasTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderbook_deltas_total",
			Help: "depth updates classified by the sync state, by book and outcome",
		},
		[]string{"provider", "symbol", "outcome"},
	)

	ResyncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderbook_resyncs_total",
			Help: "order book rebuilds from a new snapshot, by book and reason",
		},
		[]string{"provider", "symbol", "reason"},
	)

	LastUpdateIDGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orderbook_last_update_id",
			Help: "last update id applied to the local order book",
		},
		[]string{"provider", "symbol"},
	)

	LevelsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orderbook_levels",
			Help: "price levels held by the local order book, by side",
		},
		[]string{"provider", "symbol", "side"},
	)

	SyncedGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orderbook_synchronized",
			Help: "1 while the local order book is synchronized",
		},
		[]string{"provider", "symbol"},
	)
)

func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(DeltasTotal)
	reg.MustRegister(ResyncsTotal)
	reg.MustRegister(LastUpdateIDGauge)
	reg.MustRegister(LevelsGauge)
	reg.MustRegister(SyncedGauge)
	reg.MustRegister(collectors.NewGoCollector())

	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// MaintainerMetrics feeds the collectors above from an OrderbookMaintainer.
type MaintainerMetrics struct{}

var _ domain.MaintainerMetrics = MaintainerMetrics{}

func (MaintainerMetrics) ObserveOutcome(provider string, symbol *domain.MarketSymbol, outcome domain.SyncOutcome) {
	DeltasTotal.WithLabelValues(provider, symbol.String(), outcome.String()).Inc()
}

func (MaintainerMetrics) ObserveResync(provider string, symbol *domain.MarketSymbol, reason string) {
	ResyncsTotal.WithLabelValues(provider, symbol.String(), reason).Inc()
}

func (MaintainerMetrics) ObserveBook(provider string, symbol *domain.MarketSymbol, lastUpdateID uint64, bids, asks int) {
	sym := symbol.String()
	LastUpdateIDGauge.WithLabelValues(provider, sym).Set(float64(lastUpdateID))
	LevelsGauge.WithLabelValues(provider, sym, "bid").Set(float64(bids))
	LevelsGauge.WithLabelValues(provider, sym, "ask").Set(float64(asks))
}

func ObserveStatus(provider string, symbol *domain.MarketSymbol, status domain.SyncStatus) {
	synced := 0
	if status == domain.SyncStatus_Synchronized {
		synced = 1
	}
	SyncedGauge.WithLabelValues(provider, symbol.String()).Set(float64(synced))
}
