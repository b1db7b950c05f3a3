package conn

import (
	"errors"
	"sync"

	"github.com/mizosoft/segattr/wire"
	"go.uber.org/zap"
)

// Pool caches one Channel per endpoint. Channels are created on first request
// and connect lazily.
type Pool struct {
	options  Options
	logger   *zap.SugaredLogger
	channels map[wire.Endpoint]*Channel
	closed   bool
	mut      sync.Mutex
}

func NewPool(options Options) *Pool {
	return &Pool{
		options:  options,
		logger:   options.LoggerOrNoop().With(zap.String("name", "pool")).Sugar(),
		channels: make(map[wire.Endpoint]*Channel),
	}
}

func (p *Pool) Get(endpoint wire.Endpoint) (*Channel, error) {
	p.mut.Lock()
	defer p.mut.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	channel, ok := p.channels[endpoint]
	if !ok || channel.Closed() {
		channel = NewChannel(endpoint, p.options)
		p.channels[endpoint] = channel
		p.logger.Debugw("Created channel", "endpoint", endpoint)
	}
	return channel, nil
}

// CloseAll closes every channel, failing their pending requests. Later calls to
// Get fail with ErrPoolClosed.
func (p *Pool) CloseAll() error {
	p.mut.Lock()
	if p.closed {
		p.mut.Unlock()
		return nil
	}
	p.closed = true
	channels := p.channels
	p.channels = nil
	p.mut.Unlock()

	var errs []error
	for _, channel := range channels {
		errs = append(errs, channel.Close())
	}
	return errors.Join(errs...)
}
