package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vellum/internal/common"
	"vellum/internal/engine"
)

type mockObserver struct {
	mu      sync.Mutex
	acks    []common.Ack
	updates []common.OrderUpdate
	trades  []common.Trade
}

func (m *mockObserver) NotifyAck(a common.Ack) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acks = append(m.acks, a)
}

func (m *mockObserver) NotifyOrderUpdate(u common.OrderUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, u)
}

func (m *mockObserver) NotifyTrade(t common.Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, t)
}

func (m *mockObserver) snapshotUpdates() []common.OrderUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]common.OrderUpdate, len(m.updates))
	copy(out, m.updates)
	return out
}

func (m *mockObserver) snapshotTrades() []common.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]common.Trade, len(m.trades))
	copy(out, m.trades)
	return out
}

func startEngine(t *testing.T) (*engine.Engine, func()) {
	t.Helper()
	e := engine.New(common.Equities, "AAPL")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = e.Run(ctx)
		close(done)
	}()
	return e, func() {
		cancel()
		e.Stop()
		<-done
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.Fail(t, "condition not met within deadline")
}

func TestEngine_InsertValidation(t *testing.T) {
	e, stop := startEngine(t)
	defer stop()

	ack := e.Insert("alice", common.OrderFields{
		AssetType: common.Equities, Ticker: "AAPL",
		Side: common.Buy, OrderType: common.MarketOrder, Price: 1, Amount: 1,
	})
	assert.False(t, ack.Success)

	ack = e.Insert("alice", common.OrderFields{
		AssetType: common.Equities, Ticker: "AAPL",
		Side: common.Buy, OrderType: common.LimitOrder, Price: 0, Amount: 1,
	})
	assert.False(t, ack.Success)

	ack = e.Insert("alice", common.OrderFields{
		AssetType: common.Equities, Ticker: "AAPL",
		Side: common.Buy, OrderType: common.LimitOrder, Price: 100, Amount: -1,
	})
	assert.False(t, ack.Success)
}

func TestEngine_InsertAndMatch(t *testing.T) {
	e, stop := startEngine(t)
	defer stop()

	alice := &mockObserver{}
	bob := &mockObserver{}
	e.Subscribe("alice", alice)
	e.Subscribe("bob", bob)

	ack := e.Insert("alice", common.OrderFields{
		AssetType: common.Equities, Ticker: "AAPL",
		Side: common.Buy, OrderType: common.LimitOrder, Price: 100, Amount: 10,
	})
	require.True(t, ack.Success)
	bidID := ack.OrderID

	ack = e.Insert("bob", common.OrderFields{
		AssetType: common.Equities, Ticker: "AAPL",
		Side: common.Sell, OrderType: common.LimitOrder, Price: 99, Amount: 10,
	})
	require.True(t, ack.Success)

	waitFor(t, func() bool { return len(alice.snapshotTrades()) > 0 && len(bob.snapshotTrades()) > 0 })

	aliceTrades := alice.snapshotTrades()
	require.Len(t, aliceTrades, 1)
	assert.Equal(t, bidID, aliceTrades[0].MakerOrderID)
}

func TestEngine_CancelRequiresOwnership(t *testing.T) {
	e, stop := startEngine(t)
	defer stop()

	alice := &mockObserver{}
	e.Subscribe("alice", alice)

	ack := e.Insert("alice", common.OrderFields{
		AssetType: common.Equities, Ticker: "AAPL",
		Side: common.Buy, OrderType: common.LimitOrder, Price: 100, Amount: 10,
	})
	require.True(t, ack.Success)

	waitFor(t, func() bool { return len(alice.snapshotUpdates()) > 0 })

	bad := e.Cancel("mallory", ack.OrderID)
	assert.False(t, bad.Success)

	good := e.Cancel("alice", ack.OrderID)
	assert.True(t, good.Success)
}

func TestEngine_CancelUnknownID(t *testing.T) {
	e, stop := startEngine(t)
	defer stop()

	ack := e.Cancel("alice", common.OrderID(99999))
	assert.False(t, ack.Success)
}

func TestEngine_AmendRequiresOwnership(t *testing.T) {
	e, stop := startEngine(t)
	defer stop()

	alice := &mockObserver{}
	e.Subscribe("alice", alice)

	ack := e.Insert("alice", common.OrderFields{
		AssetType: common.Equities, Ticker: "AAPL",
		Side: common.Buy, OrderType: common.LimitOrder, Price: 100, Amount: 10,
	})
	require.True(t, ack.Success)
	waitFor(t, func() bool { return len(alice.snapshotUpdates()) > 0 })

	fields := common.OrderFields{
		AssetType: common.Equities, Ticker: "AAPL",
		Side: common.Buy, OrderType: common.LimitOrder, Price: 101, Amount: 5,
	}

	bad := e.Amend("mallory", ack.OrderID, fields)
	assert.False(t, bad.Success)

	good := e.Amend("alice", ack.OrderID, fields)
	assert.True(t, good.Success)
}

func TestEngine_SubmissionAfterStopFails(t *testing.T) {
	e, stop := startEngine(t)
	stop()

	ack := e.Insert("alice", common.OrderFields{
		AssetType: common.Equities, Ticker: "AAPL",
		Side: common.Buy, OrderType: common.LimitOrder, Price: 100, Amount: 10,
	})
	assert.False(t, ack.Success)
}

func TestEngine_ReceiveMarketDataDropsInvalid(t *testing.T) {
	e, stop := startEngine(t)
	defer stop()

	e.ReceiveMarketData([]common.OrderFields{
		{AssetType: common.Equities, Ticker: "AAPL", Side: common.Buy, OrderType: common.LimitOrder, Price: -1, Amount: 5},
		{AssetType: common.Equities, Ticker: "AAPL", Side: common.Sell, OrderType: common.LimitOrder, Price: 50, Amount: 5},
	})

	observer := &mockObserver{}
	e.Subscribe("watcher", observer)

	ack := e.Insert("watcher", common.OrderFields{
		AssetType: common.Equities, Ticker: "AAPL",
		Side: common.Buy, OrderType: common.LimitOrder, Price: 50, Amount: 5,
	})
	require.True(t, ack.Success)

	waitFor(t, func() bool { return len(observer.snapshotTrades()) > 0 })
	assert.Equal(t, float64(5), observer.snapshotTrades()[0].Amount)
}
