// Package engine is the matching engine: it serializes concurrent
// submissions from clients and market-data producers into a single
// transaction stream, applies that stream to one order book on a dedicated
// goroutine, and fans out the resulting events to subscribed observers.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/tomb.v2"

	"vellum/internal/book"
	"vellum/internal/common"
	"vellum/internal/metrics"
)

// firstOrderID matches the reference implementation's orderIdCount seed.
const firstOrderID = 1000

// wakeInterval is how often the waker goroutine broadcasts on the processor's
// condition variable so a stop request is observed promptly. It has no
// bearing on matching latency: a transaction already queued is picked up the
// instant it is pushed, via the same broadcast.
const wakeInterval = 100 * time.Millisecond

// Observer receives the events one Engine produces for one client. An
// implementation must not block: delivery happens synchronously on the
// processor goroutine, and a slow Observer stalls the entire book.
type Observer interface {
	NotifyAck(common.Ack)
	NotifyOrderUpdate(common.OrderUpdate)
	NotifyTrade(common.Trade)
}

// MarketDataStreamer produces batches of anonymous orders for an Engine to
// insert. Next blocks until a batch is available, ctx is cancelled, or an
// error occurs.
type MarketDataStreamer interface {
	Next(ctx context.Context) ([]common.OrderFields, error)
}

// liveOrder is the denormalized record Engine.live keeps per resting order,
// just enough to authorize an Amend/Cancel before it is enqueued.
type liveOrder struct {
	clientID common.ClientID
}

// Engine owns exactly one book.OrderBook. Multi-instrument operation is one
// Engine (and one OrderBook) per instrument, not one Engine juggling many.
type Engine struct {
	assetType common.AssetType
	ticker    string
	book      *book.OrderBook

	nextOrderID uint64 // atomic

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []common.Transaction
	stopped bool

	liveMu sync.RWMutex
	live   map[common.OrderID]liveOrder

	obsMu     sync.RWMutex
	observers map[common.ClientID]Observer

	streamer MarketDataStreamer
	metrics  *metrics.Collector

	t *tomb.Tomb
}

// New constructs an Engine for a single instrument. The engine is inert
// until Run is called.
func New(assetType common.AssetType, ticker string) *Engine {
	e := &Engine{
		assetType:   assetType,
		ticker:      ticker,
		nextOrderID: firstOrderID,
		live:        make(map[common.OrderID]liveOrder),
		observers:   make(map[common.ClientID]Observer),
	}
	e.cond = sync.NewCond(&e.mu)
	e.book = book.New(ticker, e.dispatchTrade, e.dispatchOrderUpdate)
	return e
}

// SetMarketDataStreamer wires a market-data source in before Run is called.
func (e *Engine) SetMarketDataStreamer(s MarketDataStreamer) {
	e.streamer = s
}

// SetMetrics wires a Prometheus collector in before Run is called. Without
// one, the engine runs with no instrumentation overhead.
func (e *Engine) SetMetrics(c *metrics.Collector) {
	e.metrics = c
}

// Subscribe registers observer to receive events for clientID's orders.
func (e *Engine) Subscribe(clientID common.ClientID, observer Observer) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.observers[clientID] = observer
}

// Unsubscribe removes any observer registered for clientID.
func (e *Engine) Unsubscribe(clientID common.ClientID) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	delete(e.observers, clientID)
}

func (e *Engine) assignOrderID() common.OrderID {
	return common.OrderID(atomic.AddUint64(&e.nextOrderID, 1))
}

func validateFields(fields common.OrderFields) (ok bool, reason string) {
	if fields.OrderType != common.LimitOrder {
		return false, "only limit orders are supported"
	}
	if fields.Price <= 0 {
		return false, "price must be positive"
	}
	if fields.Amount <= 0 {
		return false, "amount must be positive"
	}
	return true, ""
}

// Insert validates fields and, on success, assigns an id and enqueues an
// Insert transaction. The returned Ack reflects queuing, not matching.
func (e *Engine) Insert(clientID common.ClientID, fields common.OrderFields) common.Ack {
	if ok, reason := validateFields(fields); !ok {
		return common.Ack{Success: false, Message: reason}
	}

	id := e.assignOrderID()
	order := common.Order{
		ID:             id,
		ClientID:       clientID,
		AssetType:      fields.AssetType,
		Ticker:         fields.Ticker,
		Side:           fields.Side,
		Price:          fields.Price,
		OriginalAmount: fields.Amount,
		UnfilledAmount: fields.Amount,
		Timestamp:      time.Now(),
	}
	if !e.enqueue(common.Transaction{OrderID: id, Order: order, Kind: common.Insert}) {
		return common.Ack{Success: false, Message: "engine stopped", OrderID: id}
	}
	return common.Ack{Success: true, Message: "queued", OrderID: id}
}

// Amend validates fields and ownership of orderID before enqueueing an
// Amend transaction. Ownership is checked against Engine.live, not the
// book, so a submitter goroutine never touches the book directly.
func (e *Engine) Amend(clientID common.ClientID, orderID common.OrderID, fields common.OrderFields) common.Ack {
	if ok, reason := validateFields(fields); !ok {
		return common.Ack{Success: false, Message: reason, OrderID: orderID}
	}
	if !e.authorize(clientID, orderID) {
		return common.Ack{Success: false, Message: "unknown order or not owner", OrderID: orderID}
	}

	order := common.Order{
		ID:             orderID,
		ClientID:       clientID,
		AssetType:      fields.AssetType,
		Ticker:         fields.Ticker,
		Side:           fields.Side,
		Price:          fields.Price,
		OriginalAmount: fields.Amount,
		UnfilledAmount: fields.Amount,
		Timestamp:      time.Now(),
	}
	if !e.enqueue(common.Transaction{OrderID: orderID, Order: order, Kind: common.Amend}) {
		return common.Ack{Success: false, Message: "engine stopped", OrderID: orderID}
	}
	return common.Ack{Success: true, Message: "queued", OrderID: orderID}
}

// Cancel checks ownership of orderID before enqueueing a Cancel transaction.
func (e *Engine) Cancel(clientID common.ClientID, orderID common.OrderID) common.Ack {
	if !e.authorize(clientID, orderID) {
		return common.Ack{Success: false, Message: "unknown order or not owner", OrderID: orderID}
	}
	if !e.enqueue(common.Transaction{OrderID: orderID, Kind: common.Cancel}) {
		return common.Ack{Success: false, Message: "engine stopped", OrderID: orderID}
	}
	return common.Ack{Success: true, Message: "queued", OrderID: orderID}
}

func (e *Engine) authorize(clientID common.ClientID, orderID common.OrderID) bool {
	e.liveMu.RLock()
	defer e.liveMu.RUnlock()
	lo, ok := e.live[orderID]
	return ok && lo.clientID == clientID
}

// ReceiveMarketData validates and enqueues a batch of anonymous orders,
// assigning each a real id from the same counter client orders use.
// Invalid entries are dropped and logged, never silently matched.
func (e *Engine) ReceiveMarketData(batch []common.OrderFields) {
	for _, fields := range batch {
		if ok, reason := validateFields(fields); !ok {
			log.Warn().Str("reason", reason).Msg("dropping invalid market data order")
			continue
		}
		id := e.assignOrderID()
		order := common.Order{
			ID:             id,
			AssetType:      fields.AssetType,
			Ticker:         fields.Ticker,
			Side:           fields.Side,
			Price:          fields.Price,
			OriginalAmount: fields.Amount,
			UnfilledAmount: fields.Amount,
			Timestamp:      time.Now(),
		}
		e.enqueue(common.Transaction{OrderID: id, Order: order, Kind: common.Insert})
	}
}

// enqueue pushes tx onto the transaction queue and wakes the processor. It
// reports false if the engine has already been stopped.
func (e *Engine) enqueue(tx common.Transaction) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return false
	}
	e.queue = append(e.queue, tx)
	e.cond.Broadcast()
	if e.metrics != nil {
		e.metrics.QueueDepth.Set(float64(len(e.queue)))
	}
	return true
}

// Run starts the processor, waker and (if configured) market-data goroutines
// under a shared tomb, and blocks until the tomb dies.
func (e *Engine) Run(ctx context.Context) error {
	e.t, ctx = tomb.WithContext(ctx)
	e.t.Go(e.processLoop)
	e.t.Go(e.waker)
	if e.streamer != nil {
		e.t.Go(func() error { return e.marketDataLoop(ctx) })
	}
	return e.t.Wait()
}

// Stop signals shutdown and waits for every engine goroutine to exit.
func (e *Engine) Stop() {
	if e.t == nil {
		return
	}
	e.t.Kill(nil)
	_ = e.t.Wait()
}

// waker exists only because sync.Cond.Wait has no timeout: it rebroadcasts
// periodically so the processor's stop check runs promptly, and once more
// the moment the tomb starts dying.
func (e *Engine) waker() error {
	ticker := time.NewTicker(wakeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.t.Dying():
			e.mu.Lock()
			e.stopped = true
			e.cond.Broadcast()
			e.mu.Unlock()
			return nil
		case <-ticker.C:
			e.mu.Lock()
			e.cond.Broadcast()
			e.mu.Unlock()
		}
	}
}

// processLoop is the sole goroutine that ever touches e.book.
func (e *Engine) processLoop() error {
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.stopped {
			e.cond.Wait()
		}
		if len(e.queue) == 0 && e.stopped {
			e.mu.Unlock()
			return nil
		}
		tx := e.queue[0]
		e.queue = e.queue[1:]
		depth := len(e.queue)
		e.mu.Unlock()

		if e.metrics != nil {
			e.metrics.QueueDepth.Set(float64(depth))
		}
		e.dispatch(tx)
	}
}

func (e *Engine) dispatch(tx common.Transaction) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.MatchLatency.Observe(time.Since(start).Seconds())
			e.metrics.TransactionsTotal.WithLabelValues(tx.Kind.String()).Inc()
		}
	}()

	switch tx.Kind {
	case common.Insert:
		e.book.Insert(tx.Order)
	case common.Amend:
		e.book.Amend(tx.OrderID, common.OrderFields{
			AssetType: tx.Order.AssetType,
			Ticker:    tx.Order.Ticker,
			Side:      tx.Order.Side,
			OrderType: common.LimitOrder,
			Price:     tx.Order.Price,
			Amount:    tx.Order.OriginalAmount,
		})
	case common.Cancel:
		e.book.Cancel(tx.OrderID)
	}
}

// marketDataLoop pulls batches from the configured streamer until ctx is
// cancelled or Next returns an error; that error ends the loop and, through
// the shared tomb, the engine.
func (e *Engine) marketDataLoop(ctx context.Context) error {
	for {
		select {
		case <-e.t.Dying():
			return nil
		default:
		}
		batch, err := e.streamer.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("market data streamer error")
			return err
		}
		e.ReceiveMarketData(batch)
	}
}

// dispatchTrade is the book's onTrade callback: it fans the trade out to
// both counterparties. It does not touch Engine.live; dispatchOrderUpdate
// keeps it in step for both sides, since the book follows every trade with
// the maker's OrderUpdate and ends the cross phase with the taker's.
func (e *Engine) dispatchTrade(trade common.Trade) {
	if e.metrics != nil {
		e.metrics.TradesTotal.Inc()
		e.metrics.TradeVolume.Add(trade.Amount)
	}
	e.notify(trade.MakerClientID, func(o Observer) { o.NotifyTrade(trade) })
	e.notify(trade.TakerClientID, func(o Observer) { o.NotifyTrade(trade) })
}

// dispatchOrderUpdate is the book's onOrderUpdate callback: it fans the
// update out to its owner and keeps Engine.live authoritative for
// subsequent Amend/Cancel authorization checks.
func (e *Engine) dispatchOrderUpdate(update common.OrderUpdate) {
	switch update.Status {
	case common.Resting, common.PartiallyFilled, common.Amended:
		e.liveMu.Lock()
		e.live[update.OrderID] = liveOrder{clientID: update.ClientID}
		n := len(e.live)
		e.liveMu.Unlock()
		if e.metrics != nil {
			e.metrics.LiveOrders.Set(float64(n))
		}
	case common.Filled, common.Cancelled:
		e.liveMu.Lock()
		delete(e.live, update.OrderID)
		n := len(e.live)
		e.liveMu.Unlock()
		if e.metrics != nil {
			e.metrics.LiveOrders.Set(float64(n))
		}
	}

	e.notify(update.ClientID, func(o Observer) { o.NotifyOrderUpdate(update) })
}

func (e *Engine) notify(clientID common.ClientID, deliver func(Observer)) {
	if clientID == "" {
		return
	}
	e.obsMu.RLock()
	observer, ok := e.observers[clientID]
	e.obsMu.RUnlock()
	if !ok {
		return
	}
	deliver(observer)
}
