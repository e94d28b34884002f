package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	clusteriface "github.com/andrwng/ducktape/cluster"
	"go.uber.org/multierr"
)

// Cluster is a local Cluster that runs processes directly on the underlying
// host. There are no external resources to create, which makes this suitable
// for fast-feedback tests of transport-level behavior; it cannot isolate
// services that hardcode absolute paths or ports.
type Cluster struct {
	dir    string
	nodes  []*Node
	nextID int
}

func NewCluster() (*Cluster, error) {
	dir, err := os.MkdirTemp("", "ducktape-local")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	return &Cluster{dir: dir}, nil
}

func (c *Cluster) Allocate(ctx context.Context, n int) (clusteriface.Nodes, error) {
	var nodes clusteriface.Nodes
	for i := 0; i < n; i++ {
		c.nextID++
		id := c.nextID
		nodeDir := filepath.Join(c.dir, strconv.Itoa(id))
		if err := os.Mkdir(nodeDir, 0777); err != nil {
			return nil, fmt.Errorf("creating dir for node %d: %w", id, err)
		}
		node := &Node{ID: id, Dir: nodeDir}
		c.nodes = append(c.nodes, node)
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func (c *Cluster) Release(node clusteriface.Node) {
	node.Close(context.Background())
	for i, n := range c.nodes {
		if clusteriface.Node(n) == node {
			c.nodes = append(c.nodes[:i], c.nodes[i+1:]...)
			return
		}
	}
}

func (c *Cluster) Cleanup(ctx context.Context) error {
	var err error
	for _, node := range c.nodes {
		err = multierr.Append(err, node.Close(ctx))
	}
	c.nodes = nil
	return multierr.Append(err, os.RemoveAll(c.dir))
}
