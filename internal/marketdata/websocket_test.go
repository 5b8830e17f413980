package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vellum/internal/common"
)

func TestWebSocket_NextDecodesFrame(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`[{"side":"buy","price":101.5,"amount":3},{"side":"sell","price":102,"amount":2}]`))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	w := NewWebSocket(url, common.Equities, "AAPL")
	defer w.Close()

	batch, err := w.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, batch, 2)

	assert.Equal(t, common.Buy, batch[0].Side)
	assert.Equal(t, 101.5, batch[0].Price)
	assert.Equal(t, common.Sell, batch[1].Side)
	assert.Equal(t, float64(2), batch[1].Amount)
	assert.Equal(t, "AAPL", batch[0].Ticker)
	assert.Equal(t, common.Equities, batch[0].AssetType)
}

func TestWebSocket_NextDropsUnparseableFrame(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	w := NewWebSocket(url, common.Equities, "AAPL")
	defer w.Close()

	batch, err := w.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, batch)
}
