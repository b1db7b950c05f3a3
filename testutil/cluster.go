package testutil

import (
	"fmt"
	"testing"

	"github.com/mizosoft/segattr/segmentstore"
	"github.com/mizosoft/segattr/wire"
	"go.uber.org/zap"
	"gotest.tools/v3/assert"
)

type ClusterConfig struct {
	NodeCount int
	Token     string

	// Owners maps each segment to the index of the node that owns it.
	Owners map[string]int

	Logger *zap.Logger
}

// Cluster is a set of in-memory segment store nodes. Each segment lives on
// exactly one node; the others answer requests for it with a wrong host reply.
type Cluster struct {
	Nodes  []*segmentstore.Server
	owners map[string]int
}

func StartCluster(t *testing.T, config ClusterConfig) *Cluster {
	t.Helper()

	logger := config.Logger
	if logger == nil {
		logger = zap.NewExample()
	}

	stores := make([]segmentstore.Store, config.NodeCount)
	for i := range stores {
		stores[i] = segmentstore.NewMemoryStore(logger.With(zap.Int("node", i)))
	}
	for segment, owner := range config.Owners {
		assert.NilError(t, stores[owner].CreateSegment(segment))
	}

	cluster := &Cluster{owners: config.Owners}
	for i, store := range stores {
		node, err := segmentstore.Listen(store, segmentstore.Options{
			Token:  config.Token,
			Logger: logger.With(zap.Int("node", i)),
		})
		assert.NilError(t, err)
		cluster.Nodes = append(cluster.Nodes, node)
	}
	for segment, owner := range config.Owners {
		for i, node := range cluster.Nodes {
			if i != owner {
				node.Forward(segment, cluster.Nodes[owner].Endpoint().String())
			}
		}
	}

	t.Cleanup(func() {
		for _, node := range cluster.Nodes {
			node.Close()
			node.Store().Close()
		}
	})
	return cluster
}

// StartNode starts a single node owning the given segments.
func StartNode(t *testing.T, token string, segments ...string) *segmentstore.Server {
	owners := make(map[string]int)
	for _, segment := range segments {
		owners[segment] = 0
	}
	return StartCluster(t, ClusterConfig{NodeCount: 1, Token: token, Owners: owners}).Nodes[0]
}

func (c *Cluster) Owner(segment string) wire.Endpoint {
	owner, ok := c.owners[segment]
	if !ok {
		panic(fmt.Sprintf("no owner for segment %s", segment))
	}
	return c.Nodes[owner].Endpoint()
}
