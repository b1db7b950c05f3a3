package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mizosoft/segattr/wire"
	clientv3 "go.etcd.io/etcd/client/v3"
)

var ErrNoOwner = errors.New("no owner registered")

// Etcd resolves segment owners from the coordination service. Owners live under
// "<prefix>/segments/<segment>", with "<prefix>/default" as fallback. Values are
// "host:port", or a bare host that takes DefaultPort.
type Etcd struct {
	client      *clientv3.Client
	prefix      string
	defaultPort int
}

type EtcdOptions struct {
	Endpoints   []string
	Prefix      string
	DefaultPort int
	DialTimeout time.Duration
}

func NewEtcd(options EtcdOptions) (*Etcd, error) {
	if len(options.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one etcd endpoint is required")
	}

	dialTimeout := options.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   options.Endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to etcd: %w", err)
	}

	prefix := options.Prefix
	if prefix == "" {
		prefix = "/segmentstore"
	}
	return &Etcd{
		client:      client,
		prefix:      prefix,
		defaultPort: options.DefaultPort,
	}, nil
}

func (e *Etcd) Resolve(ctx context.Context, segment string) (wire.Endpoint, error) {
	for _, key := range []string{e.SegmentKey(segment), e.prefix + "/default"} {
		response, err := e.client.Get(ctx, key)
		if err != nil {
			return wire.Endpoint{}, err
		}
		if len(response.Kvs) > 0 {
			return wire.ParseEndpoint(string(response.Kvs[0].Value), e.defaultPort)
		}
	}
	return wire.Endpoint{}, fmt.Errorf("%w: segment %s", ErrNoOwner, segment)
}

// Register records endpoint as the owner of segment.
func (e *Etcd) Register(ctx context.Context, segment string, endpoint wire.Endpoint) error {
	_, err := e.client.Put(ctx, e.SegmentKey(segment), endpoint.String())
	return err
}

func (e *Etcd) SegmentKey(segment string) string {
	return e.prefix + "/segments/" + segment
}

func (e *Etcd) Close() error {
	return e.client.Close()
}
