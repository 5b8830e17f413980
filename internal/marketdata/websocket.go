package marketdata

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"vellum/internal/common"
)

// wireOrder is the JSON shape of one quote from the upstream feed; each
// websocket frame carries a JSON array of them.
type wireOrder struct {
	Side   string  `json:"side"`
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

// WebSocket streams market-data batches from an external feed over a
// gorilla/websocket connection, decoding each frame as a JSON array of
// wireOrder values.
type WebSocket struct {
	url       string
	ticker    string
	assetType common.AssetType
	conn      *websocket.Conn
}

// NewWebSocket constructs a streamer that will dial url lazily, on the
// first call to Next.
func NewWebSocket(url string, assetType common.AssetType, ticker string) *WebSocket {
	return &WebSocket{url: url, ticker: ticker, assetType: assetType}
}

func (w *WebSocket) connect(ctx context.Context) error {
	if w.conn != nil {
		return nil
	}
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial market data feed: %w", err)
	}
	w.conn = conn
	return nil
}

// Next blocks for the next frame from the feed and decodes it into a batch
// of anonymous OrderFields. A closed or reset connection is transparently
// redialed on the following call.
func (w *WebSocket) Next(ctx context.Context) ([]common.OrderFields, error) {
	if err := w.connect(ctx); err != nil {
		return nil, err
	}

	_, data, err := w.conn.ReadMessage()
	if err != nil {
		_ = w.conn.Close()
		w.conn = nil
		return nil, fmt.Errorf("read market data frame: %w", err)
	}

	var quotes []wireOrder
	if err := json.Unmarshal(data, &quotes); err != nil {
		log.Warn().Err(err).Msg("dropping unparseable market data frame")
		return nil, nil
	}

	batch := make([]common.OrderFields, 0, len(quotes))
	for _, q := range quotes {
		side := common.Buy
		if q.Side == "sell" {
			side = common.Sell
		}
		batch = append(batch, common.OrderFields{
			AssetType: w.assetType,
			Ticker:    w.ticker,
			Side:      side,
			OrderType: common.LimitOrder,
			Price:     q.Price,
			Amount:    q.Amount,
		})
	}
	return batch, nil
}

// Close releases the underlying connection, if any.
func (w *WebSocket) Close() error {
	if w.conn == nil {
		return nil
	}
	return w.conn.Close()
}
