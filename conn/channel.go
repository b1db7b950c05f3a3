package conn

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mizosoft/segattr/wire"
	"go.uber.org/zap"
)

var (
	ErrConnectionFailure = errors.New("connection failure")
	ErrChannelClosed     = errors.New("channel closed")
	ErrPoolClosed        = errors.New("connection pool closed")
)

// maxAbandoned bounds the ids remembered for dropping late replies. Past it
// the set collapses into a floor: unknown replies at or below the floor are
// dropped too.
const maxAbandoned = 1024

type Options struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// Dial opens connections, a net.Dialer with DialTimeout when nil.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)

	Logger *zap.Logger
}

func (o Options) LoggerOrNoop() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return zap.NewNop()
}

func (o Options) withDefaults() Options {
	if o.DialTimeout == 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.Dial == nil {
		dialer := &net.Dialer{
			Timeout:   o.DialTimeout,
			KeepAlive: 30 * time.Second,
		}
		o.Dial = dialer.DialContext
	}
	return o
}

type result struct {
	reply wire.Command
	err   error
}

// Channel multiplexes requests to one endpoint over a single connection,
// correlating replies by request id. The connection is dialed on first use and
// redialed on the first send after it is lost.
type Channel struct {
	endpoint wire.Endpoint
	options  Options
	logger   *zap.SugaredLogger
	nextId   atomic.Int64
	closed   atomic.Bool // Only set under mut.

	// Protected by mut.
	conn           net.Conn
	dialing        chan struct{} // Closed when the dial in progress finishes.
	pending        map[int64]chan result
	abandoned      map[int64]struct{} // Ids whose late replies are dropped silently.
	abandonedFloor int64
	mut            sync.Mutex

	writeMut sync.Mutex
	readers  sync.WaitGroup
}

func NewChannel(endpoint wire.Endpoint, options Options) *Channel {
	options = options.withDefaults()
	return &Channel{
		endpoint:  endpoint,
		options:   options,
		logger:    options.LoggerOrNoop().With(zap.String("name", "channel"), zap.Stringer("endpoint", endpoint)).Sugar(),
		pending:   make(map[int64]chan result),
		abandoned: make(map[int64]struct{}),
	}
}

func (c *Channel) Endpoint() wire.Endpoint {
	return c.endpoint
}

// Send assigns cmd the next request id and transmits it. Encoding and dial
// errors are returned directly, in which case nothing is registered. Any later
// transport failure resolves the returned handle instead.
func (c *Channel) Send(ctx context.Context, cmd wire.Command) (*Pending, error) {
	requestId := c.nextId.Add(1)
	frame, err := wire.Encode(requestId, cmd)
	if err != nil {
		return nil, err
	}

	resultChan := make(chan result, 1)
	conn, err := c.register(ctx, requestId, resultChan)
	if err != nil {
		return nil, err
	}

	pending := &Pending{
		RequestId: requestId,
		channel:   c,
		result:    resultChan,
	}

	c.writeMut.Lock()
	defer c.writeMut.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout)); err != nil {
		c.teardown(conn, err)
		return pending, nil
	}
	if err := wire.WriteFrame(conn, frame); err != nil {
		c.logger.Warnw("Error writing frame", "requestId", requestId, zap.Error(err))
		c.teardown(conn, err)
	}
	return pending, nil
}

// register records the result slot against the current connection, dialing
// one if there is none. The dial runs outside mut; concurrent senders wait for
// it or for their own ctx. Registration happens under mut so a concurrent
// teardown either sees the slot or happens before the connection is handed out.
func (c *Channel) register(ctx context.Context, requestId int64, resultChan chan result) (net.Conn, error) {
	for {
		c.mut.Lock()
		if c.closed.Load() {
			c.mut.Unlock()
			return nil, c.closedError()
		}
		if c.conn != nil {
			c.pending[requestId] = resultChan
			conn := c.conn
			c.mut.Unlock()
			return conn, nil
		}
		if wait := c.dialing; wait != nil {
			c.mut.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: waiting for connection to %s: %w", ErrConnectionFailure, c.endpoint, ctx.Err())
			}
		}

		done := make(chan struct{})
		c.dialing = done
		c.mut.Unlock()

		conn, err := c.options.Dial(ctx, "tcp", c.endpoint.String())

		c.mut.Lock()
		c.dialing = nil
		close(done)
		if err != nil {
			c.mut.Unlock()
			return nil, fmt.Errorf("%w: dialing %s: %w", ErrConnectionFailure, c.endpoint, err)
		}
		if c.closed.Load() {
			c.mut.Unlock()
			conn.Close()
			return nil, c.closedError()
		}

		c.logger.Debug("Connected")
		c.conn = conn
		c.readers.Add(1)
		go c.readLoop(conn)
		c.pending[requestId] = resultChan
		c.mut.Unlock()
		return conn, nil
	}
}

func (c *Channel) closedError() error {
	return fmt.Errorf("%w: %s: %w", ErrConnectionFailure, c.endpoint, ErrChannelClosed)
}

func (c *Channel) readLoop(conn net.Conn) {
	defer c.readers.Done()

	reader := bufio.NewReader(conn)
	for {
		frame, err := wire.ReadFrame(reader)
		if err != nil {
			c.teardown(conn, err)
			return
		}

		cmd, requestId, err := wire.Decode(frame)
		if err == nil {
			if cmd.Type() == wire.TypeKeepAlive {
				continue
			}
			err = c.resolve(conn, requestId, cmd)
		}
		if err != nil {
			c.logger.Errorw("Dropping connection", zap.Error(err))
			c.teardown(conn, err)
			return
		}
	}
}

func (c *Channel) resolve(conn net.Conn, requestId int64, reply wire.Command) error {
	c.mut.Lock()
	if c.conn != conn {
		c.mut.Unlock()
		return nil
	}

	resultChan, ok := c.pending[requestId]
	if !ok {
		_, abandoned := c.abandoned[requestId]
		delete(c.abandoned, requestId)
		abandoned = abandoned || requestId <= c.abandonedFloor
		c.mut.Unlock()
		if abandoned {
			c.logger.Debugw("Dropping reply to abandoned request", "requestId", requestId, "type", reply.Type())
			return nil
		}
		return fmt.Errorf("%w: %v for unknown request id %d", wire.ErrProtocolViolation, reply.Type(), requestId)
	}
	delete(c.pending, requestId)
	c.mut.Unlock()

	resultChan <- result{reply: reply}
	return nil
}

func (c *Channel) abandon(requestId int64) {
	c.mut.Lock()
	defer c.mut.Unlock()

	if _, ok := c.pending[requestId]; ok {
		delete(c.pending, requestId)
		c.abandoned[requestId] = struct{}{}
		if len(c.abandoned) > maxAbandoned {
			for id := range c.abandoned {
				c.abandonedFloor = max(c.abandonedFloor, id)
			}
			clear(c.abandoned)
		}
	}
}

// teardown drops conn if it is still current and fails everything pending on it.
func (c *Channel) teardown(conn net.Conn, cause error) {
	c.mut.Lock()
	if c.conn != conn {
		c.mut.Unlock()
		return
	}
	c.conn = nil
	pending := c.takePending()
	c.mut.Unlock()

	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.logger.Warnw("Error closing connection", zap.Error(err))
	}

	c.logger.Infow("Connection lost", "pending", len(pending), zap.Error(cause))
	failAll(pending, fmt.Errorf("%w: %s: %w", ErrConnectionFailure, c.endpoint, cause))
}

// Must be called with mut held.
func (c *Channel) takePending() map[int64]chan result {
	pending := c.pending
	c.pending = make(map[int64]chan result)
	c.abandoned = make(map[int64]struct{})
	c.abandonedFloor = 0
	return pending
}

func failAll(pending map[int64]chan result, err error) {
	for _, resultChan := range pending {
		resultChan <- result{err: err}
	}
}

func (c *Channel) PendingCount() int {
	c.mut.Lock()
	defer c.mut.Unlock()
	return len(c.pending)
}

func (c *Channel) Closed() bool {
	return c.closed.Load()
}

// Close closes the connection and fails every pending request. Later sends fail
// with ErrChannelClosed.
func (c *Channel) Close() error {
	c.mut.Lock()
	if c.closed.Load() {
		c.mut.Unlock()
		return nil
	}
	c.closed.Store(true)
	conn := c.conn
	c.conn = nil
	pending := c.takePending()
	c.mut.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	failAll(pending, fmt.Errorf("%w: %s: %w", ErrConnectionFailure, c.endpoint, ErrChannelClosed))
	c.readers.Wait()
	return err
}

// Pending resolves to the reply for one request or to a transport failure.
type Pending struct {
	RequestId int64
	channel   *Channel
	result    chan result
}

// Await waits for the reply. If ctx ends first the request is abandoned, its
// slot released, and a failure wrapping both ErrConnectionFailure and the
// context error is returned.
func (p *Pending) Await(ctx context.Context) (wire.Command, error) {
	select {
	case r := <-p.result:
		return r.reply, r.err
	case <-ctx.Done():
		p.Cancel()
		select {
		case r := <-p.result: // Resolved while abandoning.
			return r.reply, r.err
		default:
		}
		return nil, fmt.Errorf("%w: awaiting reply to request %d: %w", ErrConnectionFailure, p.RequestId, ctx.Err())
	}
}

// Cancel abandons interest in the reply.
func (p *Pending) Cancel() {
	p.channel.abandon(p.RequestId)
}
