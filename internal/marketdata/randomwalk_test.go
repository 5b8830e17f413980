package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vellum/internal/common"
)

func TestRandomWalk_NextReturnsStraddlingQuotes(t *testing.T) {
	w := NewRandomWalk("AAPL", 100, time.Millisecond)

	batch, err := w.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, batch, 2)

	bid, ask := batch[0], batch[1]
	assert.Equal(t, common.Buy, bid.Side)
	assert.Equal(t, common.Sell, ask.Side)
	assert.Equal(t, "AAPL", bid.Ticker)
	assert.Less(t, bid.Price, ask.Price)
	assert.Greater(t, bid.Amount, 0.0)
	assert.Greater(t, ask.Amount, 0.0)
}

func TestRandomWalk_NextRespectsCancellation(t *testing.T) {
	w := NewRandomWalk("AAPL", 100, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRandomWalk_MidNeverDropsBelowFloor(t *testing.T) {
	w := NewRandomWalk("AAPL", 1.05, time.Microsecond)

	for i := 0; i < 100; i++ {
		batch, err := w.Next(context.Background())
		require.NoError(t, err)
		for _, o := range batch {
			assert.GreaterOrEqual(t, o.Price, 0.5)
		}
	}
}
