package segmentstore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/mizosoft/segattr/wire"
	"go.uber.org/zap"
)

type Options struct {
	// Address to listen on, "127.0.0.1:0" when empty.
	Address string

	// Token every request must carry. Empty disables the check.
	Token string

	// Forward maps segments owned elsewhere to their owner's address. Requests
	// for them are answered with a wrong host reply.
	Forward map[string]string

	// WriteTimeout bounds each reply write, 10s when zero. A connection whose
	// write fails is closed.
	WriteTimeout time.Duration

	Logger *zap.Logger
}

func (o Options) LoggerOrNoop() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return zap.NewNop()
}

// Server answers attribute updates from a Store over the wire protocol.
// Requests on one connection are processed concurrently, so replies may be
// written out of order.
type Server struct {
	store    Store
	options  Options
	listener net.Listener
	logger   *zap.SugaredLogger

	// Protected by mut.
	forward map[string]string
	conns   map[net.Conn]struct{}
	closed  bool
	mut     sync.Mutex

	wg sync.WaitGroup
}

// Listen binds the listener and starts accepting connections.
func Listen(store Store, options Options) (*Server, error) {
	address := options.Address
	if address == "" {
		address = "127.0.0.1:0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}

	if options.WriteTimeout <= 0 {
		options.WriteTimeout = 10 * time.Second
	}

	forward := make(map[string]string, len(options.Forward))
	for segment, owner := range options.Forward {
		forward[segment] = owner
	}

	s := &Server{
		store:    store,
		options:  options,
		listener: listener,
		logger:   options.LoggerOrNoop().With(zap.String("name", "segmentstore"), zap.String("address", listener.Addr().String())).Sugar(),
		forward:  forward,
		conns:    make(map[net.Conn]struct{}),
	}

	s.wg.Add(1)
	go s.acceptLoop()
	s.logger.Info("Listening")
	return s, nil
}

func (s *Server) Endpoint() wire.Endpoint {
	addr := s.listener.Addr().(*net.TCPAddr)
	return wire.Endpoint{Host: addr.IP.String(), Port: addr.Port}
}

func (s *Server) Store() Store {
	return s.store
}

// Forward marks segment as owned by the node at owner.
func (s *Server) Forward(segment string, owner string) {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.forward[segment] = owner
}

func (s *Server) owner(segment string) (string, bool) {
	s.mut.Lock()
	defer s.mut.Unlock()
	owner, ok := s.forward[segment]
	return owner, ok
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Errorw("Accept error", zap.Error(err))
			}
			return
		}

		if !s.track(conn) {
			conn.Close()
			return
		}

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mut.Lock()
	defer s.mut.Unlock()

	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mut.Lock()
	defer s.mut.Unlock()
	delete(s.conns, conn)
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	logger := s.logger.With(zap.String("remote", conn.RemoteAddr().String()))
	logger.Debug("Accepted connection")

	var writeMut sync.Mutex
	var requests sync.WaitGroup
	defer requests.Wait()

	reader := bufio.NewReader(conn)
	for {
		frame, err := wire.ReadFrame(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Warnw("Error reading frame", zap.Error(err))
			}
			return
		}

		cmd, requestId, err := wire.Decode(frame)
		if err != nil {
			logger.Errorw("Closing connection on undecodable frame", zap.Error(err))
			return
		}

		requests.Add(1)
		go func() {
			defer requests.Done()

			reply := s.handle(cmd)
			if reply == nil {
				return
			}

			out, err := wire.Encode(requestId, reply)
			if err != nil {
				logger.Errorw("Error encoding reply", "requestId", requestId, zap.Error(err))
				return
			}

			writeMut.Lock()
			defer writeMut.Unlock()
			err = conn.SetWriteDeadline(time.Now().Add(s.options.WriteTimeout))
			if err == nil {
				err = wire.WriteFrame(conn, out)
			}
			if err != nil {
				logger.Warnw("Closing connection on failed reply", "requestId", requestId, zap.Error(err))
				conn.Close()
			}
		}()
	}
}

func (s *Server) handle(cmd wire.Command) wire.Command {
	switch c := cmd.(type) {
	case wire.UpdateSegmentAttribute:
		return s.updateSegmentAttribute(c)
	case wire.KeepAlive:
		return nil
	default:
		return wire.Failure{Code: wire.TypeErrorMessage, Detail: fmt.Sprintf("unsupported command %v", cmd.Type())}
	}
}

func (s *Server) updateSegmentAttribute(req wire.UpdateSegmentAttribute) wire.Command {
	if s.options.Token != "" && req.Token != s.options.Token {
		return wire.Failure{Code: wire.TypeAuthTokenCheckFailed, Segment: req.Segment, Detail: "invalid token"}
	}
	if owner, ok := s.owner(req.Segment); ok {
		return wire.Failure{Code: wire.TypeWrongHost, Segment: req.Segment, Detail: owner}
	}

	current, err := s.store.UpdateAttribute(req.Segment, req.Attribute, req.NewValue, req.ExpectedValue)
	if err == nil {
		return wire.SegmentAttributeUpdated{Attribute: req.Attribute, Success: true, CurrentValue: current}
	}

	var bad *BadAttributeUpdateError
	switch {
	case errors.As(err, &bad):
		return wire.SegmentAttributeUpdated{Attribute: req.Attribute, Success: false, CurrentValue: bad.Actual}
	case errors.Is(err, ErrNoSuchSegment):
		return wire.Failure{Code: wire.TypeNoSuchSegment, Segment: req.Segment}
	case errors.Is(err, ErrNoSuchAttribute):
		return wire.Failure{Code: wire.TypeNoSuchAttribute, Segment: req.Segment, Detail: req.Attribute.String()}
	case errors.Is(err, ErrSegmentSealed):
		return wire.Failure{Code: wire.TypeSegmentIsSealed, Segment: req.Segment}
	default:
		s.logger.Errorw("Error updating attribute", "request", req, zap.Error(err))
		return wire.Failure{Code: wire.TypeErrorMessage, Segment: req.Segment, Detail: err.Error()}
	}
}

// Close stops accepting, closes every connection, and waits for in-flight
// requests. The store is left open.
func (s *Server) Close() error {
	s.mut.Lock()
	if s.closed {
		s.mut.Unlock()
		return nil
	}
	s.closed = true
	conns := s.conns
	s.conns = make(map[net.Conn]struct{})
	s.mut.Unlock()

	err := s.listener.Close()
	for conn := range conns {
		conn.Close()
	}
	s.wg.Wait()
	return err
}
