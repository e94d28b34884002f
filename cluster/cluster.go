package cluster

import "context"

// Cluster is an allocator for a pool of nodes. Services allocate their nodes
// from a Cluster at construction time and release them back when they stop.
// Cluster implementations are generally not goroutine-safe; tests are expected
// to drive one service operation at a time.
type Cluster interface {
	// Allocate reserves n nodes and returns them in a stable order. Generally
	// this should return when the nodes are ready to use.
	Allocate(ctx context.Context, n int) (Nodes, error)

	// Release returns a node to the cluster. Implementations backed by
	// on-demand resources may tear the node down instead of pooling it.
	Release(node Node)

	// Cleanup destroys all cluster nodes and any other state related to the cluster.
	Cleanup(ctx context.Context) error
}
