package resolver

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/mizosoft/segattr/wire"
	"gotest.tools/v3/assert"
)

func TestStatic(t *testing.T) {
	endpoint := wire.Endpoint{Host: "node1", Port: 9999}
	resolved, err := Static(endpoint).Resolve(context.Background(), "scope/stream/0.#epoch.0")
	assert.NilError(t, err)
	assert.Equal(t, resolved, endpoint)
}

func TestEtcdResolve(t *testing.T) {
	endpoints := os.Getenv("ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("ETCD_ENDPOINTS not set")
	}

	resolver, err := NewEtcd(EtcdOptions{
		Endpoints:   strings.Split(endpoints, ","),
		Prefix:      "/test-" + uuid.NewString(),
		DefaultPort: 9999,
	})
	assert.NilError(t, err)
	defer resolver.Close()

	ctx := context.Background()
	_, err = resolver.Resolve(ctx, "scope/stream/0.#epoch.0")
	assert.ErrorIs(t, err, ErrNoOwner)

	owner := wire.Endpoint{Host: "node2", Port: 12345}
	assert.NilError(t, resolver.Register(ctx, "scope/stream/0.#epoch.0", owner))

	resolved, err := resolver.Resolve(ctx, "scope/stream/0.#epoch.0")
	assert.NilError(t, err)
	assert.Equal(t, resolved, owner)

	_, err = resolver.client.Put(ctx, resolver.prefix+"/default", "node3")
	assert.NilError(t, err)

	resolved, err = resolver.Resolve(ctx, "scope/stream/1.#epoch.0")
	assert.NilError(t, err)
	assert.Equal(t, resolved, wire.Endpoint{Host: "node3", Port: 9999})
}
