// Package marketdata provides engine.MarketDataStreamer implementations:
// an in-process synthetic feed for local testing and demos, and a
// websocket-backed feed for wiring the engine to an external price source.
package marketdata

import (
	"context"
	"math/rand"
	"time"

	"vellum/internal/common"
)

// RandomWalk produces a synthetic two-sided quote around a drifting mid
// price, standing in for a real upstream feed when one isn't configured.
// Next blocks on ctx or a per-call timer, and returns ctx.Err() the moment
// the caller cancels.
type RandomWalk struct {
	ticker   string
	mid      float64
	interval time.Duration
	rng      *rand.Rand
}

// NewRandomWalk constructs a generator seeded at startPrice, emitting one
// bid/ask pair every interval.
func NewRandomWalk(instrument string, startPrice float64, interval time.Duration) *RandomWalk {
	return &RandomWalk{
		ticker:   instrument,
		mid:      startPrice,
		interval: interval,
		rng:      rand.New(rand.NewSource(1)),
	}
}

// Next blocks for one interval tick, then returns a fresh bid/ask pair
// straddling the current mid, which it nudges by a small random step.
func (w *RandomWalk) Next(ctx context.Context) ([]common.OrderFields, error) {
	timer := time.NewTimer(w.interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	step := (w.rng.Float64() - 0.5) * 0.5
	w.mid += step
	if w.mid < 1 {
		w.mid = 1
	}

	spread := 0.05
	amount := 1 + w.rng.Float64()*9

	return []common.OrderFields{
		{
			AssetType: common.Equities,
			Ticker:    w.ticker,
			Side:      common.Buy,
			OrderType: common.LimitOrder,
			Price:     round2(w.mid - spread/2),
			Amount:    round2(amount),
		},
		{
			AssetType: common.Equities,
			Ticker:    w.ticker,
			Side:      common.Sell,
			OrderType: common.LimitOrder,
			Price:     round2(w.mid + spread/2),
			Amount:    round2(amount),
		},
	}, nil
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
