package common

import (
	"fmt"
	"time"
)

// Order is the book's resident record for a client or market-data intent.
// Its ID never changes across its life; Amend replaces it with a new Order
// value carrying the same ID but a fresh price/amount.
type Order struct {
	ID             OrderID
	ClientID       ClientID // empty for anonymous market-data orders
	AssetType      AssetType
	Ticker         string
	Side           Side
	Price          float64
	OriginalAmount float64
	UnfilledAmount float64
	Timestamp      time.Time
}

func (order Order) String() string {
	return fmt.Sprintf(
		`ID:             %d
ClientID:       %s
AssetType:      %v
Ticker:         %s
Side:           %v
Price:          %f
Unfilled:       %f (Total: %f)
Timestamp:      %v`,
		order.ID,
		order.ClientID,
		order.AssetType,
		order.Ticker,
		order.Side,
		order.Price,
		order.UnfilledAmount,
		order.OriginalAmount,
		order.Timestamp.Format(time.RFC3339),
	)
}

// OrderFields is the client-supplied payload for Insert/Amend: everything
// about an order except the identity the engine assigns or already owns.
type OrderFields struct {
	AssetType AssetType
	Ticker    string
	Side      Side
	OrderType OrderType
	Price     float64
	Amount    float64
}
