package common

import (
	"fmt"
	"time"
)

// Trade records one fill: a maker (the resting order) and a taker (the
// order that arrived and crossed it). ID is a synthetic correlation
// identifier for logs and audit trails — it plays no role in matching.
type Trade struct {
	ID            string
	MakerOrderID  OrderID
	TakerOrderID  OrderID
	MakerClientID ClientID
	TakerClientID ClientID
	Price         float64
	Amount        float64
	Timestamp     time.Time
}

func (t Trade) String() string {
	return fmt.Sprintf(
		`ID:             %s
Maker:          %d (%s)
Taker:          %d (%s)
Price:          %f
Amount:         %f
Timestamp:      %v`,
		t.ID,
		t.MakerOrderID, t.MakerClientID,
		t.TakerOrderID, t.TakerClientID,
		t.Price,
		t.Amount,
		t.Timestamp.Format(time.RFC3339),
	)
}
