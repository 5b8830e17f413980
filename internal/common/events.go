package common

import "fmt"

// OrderUpdate reports a change in an order's resting state.
type OrderUpdate struct {
	OrderID           OrderID
	ClientID          ClientID
	NewUnfilledAmount float64
	Status            OrderStatus
}

func (u OrderUpdate) String() string {
	return fmt.Sprintf(
		"OrderUpdate{id=%d client=%q unfilled=%.4f status=%s}",
		u.OrderID, u.ClientID, u.NewUnfilledAmount, u.Status,
	)
}

// Ack is the synchronous reply to a submission, returned before the
// transaction is processed. Success means "queued", not "matched".
type Ack struct {
	Success bool
	Message string
	OrderID OrderID
}

func (a Ack) String() string {
	return fmt.Sprintf("Ack{success=%t message=%q orderID=%d}", a.Success, a.Message, a.OrderID)
}

// Transaction is the unit of serialized work the engine's processor
// goroutine applies to the order book.
type Transaction struct {
	OrderID OrderID
	Order   Order
	Kind    TransactionKind
}
