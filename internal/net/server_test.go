package net

import (
	"encoding/binary"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tomb "gopkg.in/tomb.v2"

	. "vellum/internal/common"
	"vellum/internal/engine"
)

// fakeEngine records every call the server routes to it, standing in for
// *engine.Engine in tests that don't need real matching.
type fakeEngine struct {
	mu          sync.Mutex
	inserts     []OrderFields
	amends      []OrderID
	cancels     []OrderID
	subscribed  map[ClientID]engine.Observer
	insertAck   Ack
	amendAck    Ack
	cancelAck   Ack
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		subscribed: make(map[ClientID]engine.Observer),
		insertAck:  Ack{Success: true, Message: "queued", OrderID: 1},
		amendAck:   Ack{Success: true, Message: "queued"},
		cancelAck:  Ack{Success: true, Message: "queued"},
	}
}

func (f *fakeEngine) Insert(clientID ClientID, fields OrderFields) Ack {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts = append(f.inserts, fields)
	return f.insertAck
}

func (f *fakeEngine) Amend(clientID ClientID, orderID OrderID, fields OrderFields) Ack {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.amends = append(f.amends, orderID)
	return f.amendAck
}

func (f *fakeEngine) Cancel(clientID ClientID, orderID OrderID) Ack {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, orderID)
	return f.cancelAck
}

func (f *fakeEngine) Subscribe(clientID ClientID, observer engine.Observer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[clientID] = observer
}

func (f *fakeEngine) Unsubscribe(clientID ClientID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscribed, clientID)
}

func TestHandleMessage_NewOrderInsertsAndAcks(t *testing.T) {
	fe := newFakeEngine()
	srv := New("127.0.0.1", 0, fe)

	client, serverSide := net.Pipe()
	defer client.Close()
	defer serverSide.Close()
	srv.addOrRefreshSession("alice", serverSide)

	go func() {
		_ = srv.handleMessage(clientMessage{
			clientID: "alice",
			message: NewOrderMessage{
				BaseMessage: BaseMessage{TypeOf: NewOrder},
				AssetType:   Equities, OrderType: LimitOrder, Ticker: "AAPL",
				Price: 100, Amount: 5, Side: Buy, Username: "alice",
			},
		})
	}()

	buf := make([]byte, 64)
	n, err := client.Read(buf)
	require.NoError(t, err)

	require.Len(t, fe.inserts, 1)
	assert.Equal(t, "AAPL", fe.inserts[0].Ticker)
	assert.Equal(t, byte(AckReport), buf[0])
	assert.Greater(t, n, 0)
}

func TestHandleMessage_UnknownTypeErrors(t *testing.T) {
	fe := newFakeEngine()
	srv := New("127.0.0.1", 0, fe)

	err := srv.handleMessage(clientMessage{clientID: "alice", message: struct{ BaseMessage }{}})
	assert.Error(t, err)
}

func TestAddOrRefreshSession_SubscribesOnlyOnce(t *testing.T) {
	fe := newFakeEngine()
	srv := New("127.0.0.1", 0, fe)

	_, conn1 := net.Pipe()
	defer conn1.Close()
	_, conn2 := net.Pipe()
	defer conn2.Close()

	srv.addOrRefreshSession("alice", conn1)
	srv.addOrRefreshSession("alice", conn2)

	assert.Len(t, fe.subscribed, 1)

	srv.sessionsMu.Lock()
	sess := srv.sessions["alice"]
	srv.sessionsMu.Unlock()
	assert.Equal(t, conn2, sess.conn)
}

func TestCloseSession_Unsubscribes(t *testing.T) {
	fe := newFakeEngine()
	srv := New("127.0.0.1", 0, fe)

	client, serverSide := net.Pipe()
	defer client.Close()

	srv.addOrRefreshSession("alice", serverSide)
	require.Len(t, fe.subscribed, 1)

	srv.closeSession(serverSide)
	assert.Len(t, fe.subscribed, 0)

	srv.sessionsMu.Lock()
	_, ok := srv.sessions["alice"]
	srv.sessionsMu.Unlock()
	assert.False(t, ok)
}

func TestConnObserver_NotifyTradeIdentifiesCounterparty(t *testing.T) {
	fe := newFakeEngine()
	srv := New("127.0.0.1", 0, fe)

	client, serverSide := net.Pipe()
	defer client.Close()
	defer serverSide.Close()
	srv.addOrRefreshSession("alice", serverSide)

	observer := fe.subscribed["alice"]
	require.NotNil(t, observer)

	trade := Trade{
		MakerOrderID: 1, TakerOrderID: 2,
		MakerClientID: "alice", TakerClientID: "bob",
		Price: 10, Amount: 1,
	}

	go observer.NotifyTrade(trade)

	buf := make([]byte, 64)
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Equal(t, byte(ExecutionReport), buf[0])
	assert.Greater(t, n, 0)
	require.GreaterOrEqual(t, n, 35+len("bob"))
	assert.Equal(t, uint64(1), binary.BigEndian.Uint64(buf[17:25]))
	assert.Equal(t, uint64(2), binary.BigEndian.Uint64(buf[25:33]))
	cpLen := binary.BigEndian.Uint16(buf[33:35])
	assert.Equal(t, "bob", string(buf[35:35+int(cpLen)]))
}

func TestHandleConnection_BadTaskType(t *testing.T) {
	fe := newFakeEngine()
	srv := New("127.0.0.1", 0, fe)

	tb := &tomb.Tomb{}
	err := srv.handleConnection(tb, "not-a-conn")
	assert.ErrorIs(t, err, ErrImproperConversion)
}
