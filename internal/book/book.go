// Package book implements the limit order book: price-level organization,
// price-time priority and the cross-or-rest matching algorithm. An
// *OrderBook is single-threaded by construction — it holds no internal lock
// and assumes its owner (the matching engine's processor goroutine) never
// calls into it concurrently.
package book

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/btree"

	"vellum/internal/common"
)

// PriceEpsilon bounds float-price equality comparisons: two prices within
// PriceEpsilon of each other are considered equal at the marketable boundary
// of the cross phase. Whether an order is fully filled is an amount check and
// uses AmountEpsilon instead. Strict ordering comparisons (is this a new
// best, does this price belong above or below another level) never use it —
// see SPEC_FULL.md §4.1.
const PriceEpsilon = 1e-6

// AmountEpsilon is the equivalent tolerance for "is this order's remaining
// amount effectively zero".
const AmountEpsilon = 1e-9

// PricesEqual reports whether a and b are equal within PriceEpsilon.
func PricesEqual(a, b float64) bool {
	return math.Abs(a-b) <= PriceEpsilon
}

func isZero(amount float64) bool {
	return math.Abs(amount) <= AmountEpsilon
}

// PriceLevel is the FIFO queue of resting orders sharing one price and side.
// Orders[0] is the head: the next order to be matched or cancelled off this
// level.
type PriceLevel struct {
	Price  float64
	Orders []*common.Order
}

type levelTree = btree.BTreeG[*PriceLevel]

// locator is the order index's entry: enough to find an order's level in
// O(log N) without scanning both sides of the book.
type locator struct {
	side  common.Side
	price float64
}

// OrderBook holds the resting orders for a single instrument and runs the
// matching algorithm. Trade and OrderUpdate events are delivered
// synchronously, inline, through the two callbacks supplied to New.
type OrderBook struct {
	Ticker string

	bids *levelTree
	asks *levelTree

	index map[common.OrderID]locator

	onTrade       func(common.Trade)
	onOrderUpdate func(common.OrderUpdate)
}

// New constructs an empty OrderBook for ticker. onTrade and onOrderUpdate
// are invoked synchronously during Insert/Amend/Cancel; neither may be nil.
func New(ticker string, onTrade func(common.Trade), onOrderUpdate func(common.OrderUpdate)) *OrderBook {
	bids := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price > b.Price // highest bid first
	})
	asks := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price < b.Price // lowest ask first
	})
	return &OrderBook{
		Ticker:        ticker,
		bids:          bids,
		asks:          asks,
		index:         make(map[common.OrderID]locator),
		onTrade:       onTrade,
		onOrderUpdate: onOrderUpdate,
	}
}

func (ob *OrderBook) sideTree(side common.Side) *levelTree {
	if side == common.Buy {
		return ob.bids
	}
	return ob.asks
}

// BestBidPrice returns the highest resting bid price, or ok=false if the
// bid side is empty.
func (ob *OrderBook) BestBidPrice() (float64, bool) {
	lvl, ok := ob.bids.Min()
	if !ok {
		return 0, false
	}
	return lvl.Price, true
}

// BestAskPrice returns the lowest resting ask price, or ok=false if the ask
// side is empty.
func (ob *OrderBook) BestAskPrice() (float64, bool) {
	lvl, ok := ob.asks.Min()
	if !ok {
		return 0, false
	}
	return lvl.Price, true
}

// BestBidAmount returns the unfilled amount of the head order of the best
// bid level, or 0 if the bid side is empty.
func (ob *OrderBook) BestBidAmount() float64 {
	lvl, ok := ob.bids.Min()
	if !ok || len(lvl.Orders) == 0 {
		return 0
	}
	return lvl.Orders[0].UnfilledAmount
}

// BestAskAmount returns the unfilled amount of the head order of the best
// ask level, or 0 if the ask side is empty.
func (ob *OrderBook) BestAskAmount() float64 {
	lvl, ok := ob.asks.Min()
	if !ok || len(lvl.Orders) == 0 {
		return 0
	}
	return lvl.Orders[0].UnfilledAmount
}

// OrderExists reports whether id is currently resting in the book.
func (ob *OrderBook) OrderExists(id common.OrderID) bool {
	_, ok := ob.index[id]
	return ok
}

// Levels returns a snapshot of the side's price levels, best first. It does
// not mutate the book; callers must not mutate the returned levels' Orders
// slices.
func (ob *OrderBook) Levels(side common.Side) []*PriceLevel {
	var out []*PriceLevel
	ob.sideTree(side).Scan(func(lvl *PriceLevel) bool {
		out = append(out, lvl)
		return true
	})
	return out
}

// Insert runs order through the cross phase and, if anything remains, the
// rest phase, emitting Trade and OrderUpdate events as it goes.
func (ob *OrderBook) Insert(order common.Order) {
	o := order
	ob.insert(&o)
}

// insert is the shared pipeline for a freshly-arrived order, whether from
// Insert or from the replacement half of Amend.
func (ob *OrderBook) insert(o *common.Order) {
	switch o.Side {
	case common.Buy:
		ob.cross(o, ob.asks, func(best, order float64) bool {
			return order > best || PricesEqual(order, best)
		})
	case common.Sell:
		ob.cross(o, ob.bids, func(best, order float64) bool {
			return order < best || PricesEqual(order, best)
		})
	}

	if isZero(o.UnfilledAmount) {
		ob.onOrderUpdate(common.OrderUpdate{
			OrderID:           o.ID,
			ClientID:          o.ClientID,
			NewUnfilledAmount: 0,
			Status:            common.Filled,
		})
		return
	}

	ob.rest(o)
}

// cross consumes the head of opposite while o remains marketable against it.
// marketable(bestPrice, o.Price) decides whether o still crosses the
// current best of the opposite side.
func (ob *OrderBook) cross(o *common.Order, opposite *levelTree, marketable func(best, orderPrice float64) bool) {
	for o.UnfilledAmount > 0 {
		level, ok := opposite.Min()
		if !ok || len(level.Orders) == 0 {
			break
		}
		if !marketable(level.Price, o.Price) {
			break
		}

		maker := level.Orders[0]
		traded := math.Min(o.UnfilledAmount, maker.UnfilledAmount)
		o.UnfilledAmount -= traded
		maker.UnfilledAmount -= traded

		ob.onTrade(common.Trade{
			ID:            uuid.NewString(),
			MakerOrderID:  maker.ID,
			TakerOrderID:  o.ID,
			MakerClientID: maker.ClientID,
			TakerClientID: o.ClientID,
			Price:         maker.Price,
			Amount:        traded,
			Timestamp:     time.Now(),
		})

		makerStatus := common.PartiallyFilled
		if isZero(maker.UnfilledAmount) {
			makerStatus = common.Filled
		}
		ob.onOrderUpdate(common.OrderUpdate{
			OrderID:           maker.ID,
			ClientID:          maker.ClientID,
			NewUnfilledAmount: maker.UnfilledAmount,
			Status:            makerStatus,
		})

		if makerStatus == common.Filled {
			level.Orders = level.Orders[1:]
			delete(ob.index, maker.ID)
			if len(level.Orders) == 0 {
				opposite.Delete(level)
			}
		}
	}
}

// rest appends o to the tail of its price level (creating the level if this
// is the first order at that price) and records it in the index.
func (ob *OrderBook) rest(o *common.Order) {
	levels := ob.sideTree(o.Side)
	if lvl, ok := levels.Get(&PriceLevel{Price: o.Price}); ok {
		lvl.Orders = append(lvl.Orders, o)
	} else {
		levels.Set(&PriceLevel{Price: o.Price, Orders: []*common.Order{o}})
	}
	ob.index[o.ID] = locator{side: o.Side, price: o.Price}

	status := common.Resting
	if o.UnfilledAmount < o.OriginalAmount {
		status = common.PartiallyFilled
	}
	ob.onOrderUpdate(common.OrderUpdate{
		OrderID:           o.ID,
		ClientID:          o.ClientID,
		NewUnfilledAmount: o.UnfilledAmount,
		Status:            status,
	})
}

// removeFromLevel finds id within its recorded level and splices it out,
// deleting the level if it is now empty. It returns the removed order and
// whether id was actually found (a false here alongside a true locator hit
// means the index and the book have diverged — an invariant violation).
func (ob *OrderBook) removeFromLevel(id common.OrderID, loc locator) (*common.Order, bool) {
	levels := ob.sideTree(loc.side)
	lvl, ok := levels.Get(&PriceLevel{Price: loc.price})
	if !ok {
		return nil, false
	}
	idx := -1
	for i, ord := range lvl.Orders {
		if ord.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, false
	}
	removed := lvl.Orders[idx]
	lvl.Orders = append(lvl.Orders[:idx], lvl.Orders[idx+1:]...)
	if len(lvl.Orders) == 0 {
		levels.Delete(lvl)
	}
	return removed, true
}

// Cancel removes id from the book. It returns true iff id was resting and
// has now been removed — unlike the reference implementation, presence is
// success, not failure.
func (ob *OrderBook) Cancel(id common.OrderID) bool {
	loc, ok := ob.index[id]
	if !ok {
		return false
	}
	removed, ok := ob.removeFromLevel(id, loc)
	if !ok {
		panic("book: order index and price levels have diverged")
	}
	delete(ob.index, id)

	ob.onOrderUpdate(common.OrderUpdate{
		OrderID:           id,
		ClientID:          removed.ClientID,
		NewUnfilledAmount: 0,
		Status:            common.Cancelled,
	})
	return true
}

// Amend replaces the order at id with one built from fields: same id,
// re-priced and re-sized, appended to the tail of its (possibly new) price
// level — it always loses time priority. On success an Amended OrderUpdate
// carrying the new amount is emitted, followed by whatever Trade/OrderUpdate
// events the replacement's own insert produces. Unknown id ⇒ false, no
// change.
func (ob *OrderBook) Amend(id common.OrderID, fields common.OrderFields) bool {
	loc, ok := ob.index[id]
	if !ok {
		return false
	}
	old, ok := ob.removeFromLevel(id, loc)
	if !ok {
		panic("book: order index and price levels have diverged")
	}
	delete(ob.index, id)

	ob.onOrderUpdate(common.OrderUpdate{
		OrderID:           id,
		ClientID:          old.ClientID,
		NewUnfilledAmount: fields.Amount,
		Status:            common.Amended,
	})

	// Amend re-prices and re-sizes; the instrument an order belongs to is
	// not amendable, so AssetType/Ticker carry over from the original.
	replacement := common.Order{
		ID:             id,
		ClientID:       old.ClientID,
		AssetType:      old.AssetType,
		Ticker:         old.Ticker,
		Side:           fields.Side,
		Price:          fields.Price,
		OriginalAmount: fields.Amount,
		UnfilledAmount: fields.Amount,
		Timestamp:      time.Now(),
	}
	ob.insert(&replacement)
	return true
}
