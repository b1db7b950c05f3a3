package resolver

import (
	"context"

	"github.com/mizosoft/segattr/wire"
)

// Resolver maps a segment to the endpoint of the node currently owning it.
// Lookups have no side effects; a stale answer surfaces as a wrong host reply.
type Resolver interface {
	Resolve(ctx context.Context, segment string) (wire.Endpoint, error)
}

// Static resolves every segment to the same endpoint.
type Static wire.Endpoint

func (s Static) Resolve(context.Context, string) (wire.Endpoint, error) {
	return wire.Endpoint(s), nil
}
