package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	. "vellum/internal/common"
	"vellum/internal/engine"
)

const (
	maxRecvSize        = 4 * 1024
	defaultNWorkers    = 10
	defaultConnTimeout = 30 * time.Second
	writeDeadline      = time.Second
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
	ErrClientDoesNotExist = errors.New("client does not exist")
)

// Engine is the subset of *engine.Engine the server depends on, narrowed so
// tests can substitute a fake.
type Engine interface {
	Insert(clientID ClientID, fields OrderFields) Ack
	Amend(clientID ClientID, orderID OrderID, fields OrderFields) Ack
	Cancel(clientID ClientID, orderID OrderID) Ack
	Subscribe(clientID ClientID, observer engine.Observer)
	Unsubscribe(clientID ClientID)
}

// clientSession tracks one connected TCP client. Sessions are keyed by
// ClientID (the username carried on every message), not by the
// connection's local address — the reference server's addressing keyed
// sessions by conn.LocalAddr(), which is the *server's* bind address, not a
// per-client identity, and collapsed every client into one session.
type clientSession struct {
	conn     net.Conn
	clientID ClientID
}

// clientMessage links a parsed message to the session that sent it.
type clientMessage struct {
	clientID ClientID
	message  Message
}

type Server struct {
	address string
	port    int
	engine  Engine
	pool    *workerPool

	cancel context.CancelFunc

	sessionsMu sync.Mutex
	sessions   map[ClientID]*clientSession

	inbox chan clientMessage
}

func New(address string, port int, eng Engine) *Server {
	return &Server{
		address:  address,
		port:     port,
		engine:   eng,
		pool:     newWorkerPool(defaultNWorkers),
		sessions: make(map[ClientID]*clientSession),
		inbox:    make(chan clientMessage, defaultNWorkers),
	}
}

func (s *Server) Shutdown() {
	log.Info().Msg("server shutting down")
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Server) Run(ctx context.Context) error {
	defer s.Shutdown()

	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		return err
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
	}()

	t.Go(func() error {
		s.pool.setup(t, s.handleConnection)
		return nil
	})
	t.Go(func() error {
		return s.sessionHandler(t)
	})

	log.Info().Str("address", s.address).Int("port", s.port).Msg("server listening")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			conn, err := listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Error().Err(err).Msg("error accepting client")
				continue
			}
			if err := conn.SetDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
				log.Error().Err(err).Msg("failed setting deadline for connection")
			}
			s.pool.addTask(conn)
		}
	}
}

// sessionHandler applies messages to the engine one at a time, keeping
// engine submission off the per-connection worker goroutines.
func (s *Server) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case msg := <-s.inbox:
			if err := s.handleMessage(msg); err != nil {
				log.Error().Err(err).Str("clientID", string(msg.clientID)).Msg("error handling message")
				s.sendError(msg.clientID, err)
			}
		}
	}
}

func (s *Server) handleMessage(msg clientMessage) error {
	switch m := msg.message.(type) {
	case NewOrderMessage:
		ack := s.engine.Insert(ClientID(m.Username), m.Fields())
		s.sendAck(ClientID(m.Username), ack)
	case AmendOrderMessage:
		ack := s.engine.Amend(ClientID(m.Username), OrderID(m.OrderID), m.Fields())
		s.sendAck(ClientID(m.Username), ack)
	case CancelOrderMessage:
		ack := s.engine.Cancel(ClientID(m.Username), OrderID(m.OrderID))
		s.sendAck(ClientID(m.Username), ack)
	case LogBookMessage:
		log.Info().Str("clientID", string(msg.clientID)).Msg("log book requested")
	default:
		return ErrInvalidMessageType
	}
	return nil
}

// handleConnection reads exactly one message off conn, registers/refreshes
// its session under the message's claimed ClientID, forwards it to the
// session handler, and requeues the connection for its next message. Any
// error returned here kills the tomb the worker pool runs under, which stops
// every worker and the session handler.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return ErrImproperConversion
	}

	select {
	case <-t.Dying():
		return nil
	default:
	}

	buffer := make([]byte, maxRecvSize)
	n, err := conn.Read(buffer)
	if err != nil {
		log.Debug().Err(err).Msg("connection closed")
		s.closeSession(conn)
		return nil
	}

	message, err := parseMessage(buffer[:n])
	if err != nil {
		log.Error().Err(err).Msg("error parsing message")
		s.pool.addTask(conn)
		return nil
	}

	clientID := clientIDOf(message)
	if clientID != "" {
		s.addOrRefreshSession(clientID, conn)
	}

	s.inbox <- clientMessage{clientID: clientID, message: message}

	if err := conn.SetDeadline(time.Now().Add(defaultConnTimeout)); err == nil {
		s.pool.addTask(conn)
	}
	return nil
}

func clientIDOf(m Message) ClientID {
	switch v := m.(type) {
	case NewOrderMessage:
		return ClientID(v.Username)
	case AmendOrderMessage:
		return ClientID(v.Username)
	case CancelOrderMessage:
		return ClientID(v.Username)
	default:
		return ""
	}
}

func (s *Server) addOrRefreshSession(clientID ClientID, conn net.Conn) {
	s.sessionsMu.Lock()
	_, existed := s.sessions[clientID]
	s.sessions[clientID] = &clientSession{conn: conn, clientID: clientID}
	s.sessionsMu.Unlock()

	if !existed {
		s.engine.Subscribe(clientID, &connObserver{server: s, clientID: clientID})
	}
}

func (s *Server) closeSession(conn net.Conn) {
	s.sessionsMu.Lock()
	var found ClientID
	for id, sess := range s.sessions {
		if sess.conn == conn {
			found = id
			break
		}
	}
	if found != "" {
		delete(s.sessions, found)
	}
	s.sessionsMu.Unlock()

	if found != "" {
		s.engine.Unsubscribe(found)
	}
	_ = conn.Close()
}

func (s *Server) write(clientID ClientID, payload []byte) {
	s.sessionsMu.Lock()
	sess, ok := s.sessions[clientID]
	s.sessionsMu.Unlock()
	if !ok {
		return
	}
	if err := sess.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return
	}
	if _, err := sess.conn.Write(payload); err != nil {
		log.Debug().Err(err).Str("clientID", string(clientID)).Msg("write failed, dropping session")
		s.closeSession(sess.conn)
	}
}

func (s *Server) sendAck(clientID ClientID, ack Ack) {
	s.write(clientID, SerializeAck(ack))
}

func (s *Server) sendError(clientID ClientID, err error) {
	s.write(clientID, SerializeError(err.Error()))
}

// connObserver adapts one client's subscription into wire writes. It must
// not block: Server.write bounds every send with writeDeadline, and a slow
// or dead client is simply dropped rather than allowed to stall the
// engine's processor goroutine.
type connObserver struct {
	server   *Server
	clientID ClientID
}

func (o *connObserver) NotifyAck(ack Ack) {
	o.server.write(o.clientID, SerializeAck(ack))
}

func (o *connObserver) NotifyOrderUpdate(update OrderUpdate) {
	o.server.write(o.clientID, SerializeOrderUpdate(update))
}

func (o *connObserver) NotifyTrade(trade Trade) {
	var ownOrderID, cpOrderID OrderID
	var counterparty ClientID
	if trade.MakerClientID == o.clientID {
		ownOrderID, cpOrderID = trade.MakerOrderID, trade.TakerOrderID
		counterparty = trade.TakerClientID
	} else {
		ownOrderID, cpOrderID = trade.TakerOrderID, trade.MakerOrderID
		counterparty = trade.MakerClientID
	}
	o.server.write(o.clientID, SerializeExecution(trade, ownOrderID, cpOrderID, counterparty))
}
