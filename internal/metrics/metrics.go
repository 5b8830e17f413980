// Package metrics exposes the engine's operational counters as Prometheus
// collectors, grounded in the instrumentation style the rest of this
// domain's services (perp-dex matching, crypto-browser agents) use.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector bundles the gauges/counters a running Engine updates. Callers
// register it once via MustRegister and then update it from the engine's
// observer/dispatch path.
type Collector struct {
	TransactionsTotal *prometheus.CounterVec
	TradesTotal       prometheus.Counter
	TradeVolume       prometheus.Counter
	QueueDepth        prometheus.Gauge
	LiveOrders        prometheus.Gauge
	MatchLatency      prometheus.Histogram
}

// NewCollector builds a Collector with the given instrument label baked
// into every metric name's constant label set.
func NewCollector(ticker string) *Collector {
	constLabels := prometheus.Labels{"ticker": ticker}
	return &Collector{
		TransactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "vellum_transactions_total",
			Help:        "Transactions applied to the order book, by kind.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		TradesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "vellum_trades_total",
			Help:        "Trades executed against the order book.",
			ConstLabels: constLabels,
		}),
		TradeVolume: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "vellum_trade_volume_total",
			Help:        "Cumulative traded amount.",
			ConstLabels: constLabels,
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "vellum_transaction_queue_depth",
			Help:        "Pending transactions waiting on the processor goroutine.",
			ConstLabels: constLabels,
		}),
		LiveOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "vellum_live_orders",
			Help:        "Orders currently resting in the book.",
			ConstLabels: constLabels,
		}),
		MatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "vellum_match_latency_seconds",
			Help:        "Time from transaction dequeue to dispatch completion.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}),
	}
}

// MustRegister registers every metric in c with reg.
func (c *Collector) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		c.TransactionsTotal,
		c.TradesTotal,
		c.TradeVolume,
		c.QueueDepth,
		c.LiveOrders,
		c.MatchLatency,
	)
}
