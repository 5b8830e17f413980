package net

import (
	"encoding/binary"
	"errors"
	"math"

	. "vellum/internal/common"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short for specified payload length")
)

// MessageType tags an inbound client message. LogBook was referenced by the
// server's dispatch switch but never defined on the wire in the reference
// protocol; it is a first-class type here.
type MessageType uint16

const (
	Heartbeat MessageType = iota
	NewOrder
	AmendOrder
	CancelOrder
	LogBook
)

// ReportMessageType tags an outbound server message.
type ReportMessageType uint8

const (
	AckReport ReportMessageType = iota
	OrderUpdateReport
	ExecutionReport
	ErrorReport
)

type Message interface {
	GetType() MessageType
}

// Message format constants. Header lengths include the 2-byte MessageType
// prefix consumed by parseMessage.
const (
	BaseMessageHeaderLen = 2

	newOrderBodyLen   = 2 + 2 + 4 + 8 + 8 + 1 + 1 // asset, orderType, ticker, price, amount, side, usernameLen
	amendOrderBodyLen = 8 + 2 + 4 + 8 + 8 + 1 + 1  // orderID, asset, ticker, price, amount, side, usernameLen
	cancelOrderBodyLen = 8 + 1                     // orderID, usernameLen

	NewOrderMessageHeaderLen    = BaseMessageHeaderLen + newOrderBodyLen
	AmendOrderMessageHeaderLen  = BaseMessageHeaderLen + amendOrderBodyLen
	CancelOrderMessageHeaderLen = BaseMessageHeaderLen + cancelOrderBodyLen
)

type BaseMessage struct {
	TypeOf MessageType
}

func (m BaseMessage) GetType() MessageType { return m.TypeOf }

func parseMessage(msg []byte) (Message, error) {
	if len(msg) < BaseMessageHeaderLen {
		return nil, ErrMessageTooShort
	}
	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	body := msg[2:]
	switch typeOf {
	case NewOrder:
		return parseNewOrder(body)
	case AmendOrder:
		return parseAmendOrder(body)
	case CancelOrder:
		return parseCancelOrder(body)
	case LogBook:
		return LogBookMessage{BaseMessage: BaseMessage{TypeOf: LogBook}}, nil
	default:
		return nil, ErrInvalidMessageType
	}
}

// NewOrderMessage carries an Insert request.
type NewOrderMessage struct {
	BaseMessage
	AssetType AssetType
	OrderType OrderType
	Ticker    string
	Price     float64
	Amount    float64
	Side      Side
	Username  string
}

func (m NewOrderMessage) Fields() OrderFields {
	return OrderFields{
		AssetType: m.AssetType,
		Ticker:    m.Ticker,
		Side:      m.Side,
		OrderType: m.OrderType,
		Price:     m.Price,
		Amount:    m.Amount,
	}
}

func parseNewOrder(msg []byte) (NewOrderMessage, error) {
	if len(msg) < newOrderBodyLen {
		return NewOrderMessage{}, ErrMessageTooShort
	}
	m := NewOrderMessage{BaseMessage: BaseMessage{TypeOf: NewOrder}}
	m.AssetType = AssetType(binary.BigEndian.Uint16(msg[0:2]))
	m.OrderType = OrderType(binary.BigEndian.Uint16(msg[2:4]))
	m.Ticker = string(msg[4:8])
	m.Price = math.Float64frombits(binary.BigEndian.Uint64(msg[8:16]))
	m.Amount = math.Float64frombits(binary.BigEndian.Uint64(msg[16:24]))
	m.Side = Side(msg[24])
	usernameLen := int(msg[25])

	if len(msg) < newOrderBodyLen+usernameLen {
		return NewOrderMessage{}, ErrMessageTooShort
	}
	m.Username = string(msg[26 : 26+usernameLen])
	return m, nil
}

// AmendOrderMessage carries an Amend request: the id of the order being
// replaced followed by NewOrder's fields minus the order type (an amend is
// always a limit order). There is no equivalent message in
// the reference protocol — Amend there was cancel-then-reinsert at the
// engine layer with no wire-level counterpart.
type AmendOrderMessage struct {
	BaseMessage
	OrderID   uint64
	AssetType AssetType
	Ticker    string
	Price     float64
	Amount    float64
	Side      Side
	Username  string
}

func (m AmendOrderMessage) Fields() OrderFields {
	return OrderFields{
		AssetType: m.AssetType,
		Ticker:    m.Ticker,
		Side:      m.Side,
		OrderType: LimitOrder,
		Price:     m.Price,
		Amount:    m.Amount,
	}
}

func parseAmendOrder(msg []byte) (AmendOrderMessage, error) {
	if len(msg) < amendOrderBodyLen {
		return AmendOrderMessage{}, ErrMessageTooShort
	}
	m := AmendOrderMessage{BaseMessage: BaseMessage{TypeOf: AmendOrder}}
	m.OrderID = binary.BigEndian.Uint64(msg[0:8])
	m.AssetType = AssetType(binary.BigEndian.Uint16(msg[8:10]))
	m.Ticker = string(msg[10:14])
	m.Price = math.Float64frombits(binary.BigEndian.Uint64(msg[14:22]))
	m.Amount = math.Float64frombits(binary.BigEndian.Uint64(msg[22:30]))
	m.Side = Side(msg[30])
	usernameLen := int(msg[31])

	if len(msg) < amendOrderBodyLen+usernameLen {
		return AmendOrderMessage{}, ErrMessageTooShort
	}
	m.Username = string(msg[32 : 32+usernameLen])
	return m, nil
}

// CancelOrderMessage carries a Cancel request, keyed by the engine-assigned
// OrderID rather than the reference protocol's 16-byte UUID slot (the engine
// no longer assigns UUIDs).
type CancelOrderMessage struct {
	BaseMessage
	OrderID  uint64
	Username string
}

func parseCancelOrder(msg []byte) (CancelOrderMessage, error) {
	if len(msg) < cancelOrderBodyLen {
		return CancelOrderMessage{}, ErrMessageTooShort
	}
	m := CancelOrderMessage{BaseMessage: BaseMessage{TypeOf: CancelOrder}}
	m.OrderID = binary.BigEndian.Uint64(msg[0:8])
	usernameLen := int(msg[8])

	if len(msg) < cancelOrderBodyLen+usernameLen {
		return CancelOrderMessage{}, ErrMessageTooShort
	}
	m.Username = string(msg[9 : 9+usernameLen])
	return m, nil
}

// LogBookMessage is the reference protocol's debug affordance. The server
// records the request in its own log; the book's contents are not written.
type LogBookMessage struct {
	BaseMessage
}

// --- outbound reports ---

const ackReportFixedLen = 1 + 1 + 8 + 2 // type, success, orderID, messageLen

// SerializeAck encodes an Ack as an AckReport.
func SerializeAck(ack Ack) []byte {
	buf := make([]byte, ackReportFixedLen+len(ack.Message))
	buf[0] = byte(AckReport)
	if ack.Success {
		buf[1] = 1
	}
	binary.BigEndian.PutUint64(buf[2:10], uint64(ack.OrderID))
	binary.BigEndian.PutUint16(buf[10:12], uint16(len(ack.Message)))
	copy(buf[12:], ack.Message)
	return buf
}

const orderUpdateReportLen = 1 + 8 + 1 + 8 // type, orderID, status, newUnfilledAmount

// SerializeOrderUpdate encodes an OrderUpdate as an OrderUpdateReport.
func SerializeOrderUpdate(update OrderUpdate) []byte {
	buf := make([]byte, orderUpdateReportLen)
	buf[0] = byte(OrderUpdateReport)
	binary.BigEndian.PutUint64(buf[1:9], uint64(update.OrderID))
	buf[9] = byte(update.Status)
	binary.BigEndian.PutUint64(buf[10:18], math.Float64bits(update.NewUnfilledAmount))
	return buf
}

const executionReportFixedLen = 1 + 8 + 8 + 8 + 8 + 2 // type, price, amount, orderID, cpOrderID, cpLen

// SerializeExecution encodes one counterparty's view of a Trade as an
// ExecutionReport. The reference protocol emitted one report per
// counterparty too (generateWireTradeReports); here the two calls happen
// at the engine/observer boundary instead of inside the transport layer.
func SerializeExecution(trade Trade, ownOrderID, counterpartyOrderID OrderID, counterparty ClientID) []byte {
	buf := make([]byte, executionReportFixedLen+len(counterparty))
	buf[0] = byte(ExecutionReport)
	binary.BigEndian.PutUint64(buf[1:9], math.Float64bits(trade.Price))
	binary.BigEndian.PutUint64(buf[9:17], math.Float64bits(trade.Amount))
	binary.BigEndian.PutUint64(buf[17:25], uint64(ownOrderID))
	binary.BigEndian.PutUint64(buf[25:33], uint64(counterpartyOrderID))
	binary.BigEndian.PutUint16(buf[33:35], uint16(len(counterparty)))
	copy(buf[35:], counterparty)
	return buf
}

const errorReportFixedLen = 1 + 4 // type, errLen

// SerializeError encodes a transport-layer error for a client.
func SerializeError(errStr string) []byte {
	buf := make([]byte, errorReportFixedLen+len(errStr))
	buf[0] = byte(ErrorReport)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(errStr)))
	copy(buf[5:], errStr)
	return buf
}
