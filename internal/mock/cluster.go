// Package mock provides a scripted in-memory cluster for unit tests. Nodes
// record every command, file write, and kill they receive, and can be
// scripted to fail particular commands or to answer captures with canned
// output.
package mock

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/andrwng/ducktape/cluster"
)

type Cluster struct {
	free []*Node

	// AllNodes holds every node ever created, in creation order, so tests can
	// inspect nodes after they have been released.
	AllNodes []*Node

	// Released records nodes in the order they were handed back.
	Released []cluster.Node
}

// NewCluster builds a cluster whose free pool serves nodes with the given
// hostnames, in order.
func NewCluster(hostnames ...string) *Cluster {
	c := &Cluster{}
	for _, h := range hostnames {
		n := &Node{Host: h, Files: map[string]string{}}
		c.free = append(c.free, n)
		c.AllNodes = append(c.AllNodes, n)
	}
	return c
}

func (c *Cluster) Allocate(ctx context.Context, n int) (cluster.Nodes, error) {
	if n > len(c.free) {
		return nil, fmt.Errorf("insufficient capacity: want %d nodes, have %d", n, len(c.free))
	}
	var nodes cluster.Nodes
	for _, node := range c.free[:n] {
		nodes = append(nodes, node)
	}
	c.free = c.free[n:]
	return nodes, nil
}

func (c *Cluster) Release(node cluster.Node) {
	c.Released = append(c.Released, node)
	if n, ok := node.(*Node); ok {
		c.free = append(c.free, n)
	}
}

func (c *Cluster) Cleanup(ctx context.Context) error { return nil }

// Free returns how many nodes are currently allocatable.
func (c *Cluster) Free() int { return len(c.free) }

type Kill struct {
	Name     string
	Graceful bool
}

type Node struct {
	Host string

	// Commands records every shell command run on the node, in order.
	Commands []string

	// Files maps written paths to their contents.
	Files map[string]string

	// Kills records kill-by-name requests.
	Kills []Kill

	// FailExit maps a command substring to a non-zero exit code. Any command
	// containing the substring exits with that code.
	FailExit map[string]int

	// CaptureOutput maps a command substring to the output RunCapture streams.
	CaptureOutput map[string]string

	Closed bool
}

func (n *Node) Hostname() string { return n.Host }

func (n *Node) Run(ctx context.Context, req cluster.RunRequest) (int, error) {
	n.Commands = append(n.Commands, req.Command)
	for substr, code := range n.FailExit {
		if strings.Contains(req.Command, substr) {
			return code, nil
		}
	}
	return 0, nil
}

func (n *Node) RunCapture(ctx context.Context, command string) (io.ReadCloser, error) {
	n.Commands = append(n.Commands, command)
	for substr, out := range n.CaptureOutput {
		if strings.Contains(command, substr) {
			return io.NopCloser(strings.NewReader(out)), nil
		}
	}
	return io.NopCloser(strings.NewReader("")), nil
}

func (n *Node) WriteFile(ctx context.Context, path string, contents io.Reader) error {
	b, err := io.ReadAll(contents)
	if err != nil {
		return err
	}
	n.Files[path] = string(b)
	return nil
}

func (n *Node) KillProcess(ctx context.Context, name string, graceful bool) error {
	n.Kills = append(n.Kills, Kill{Name: name, Graceful: graceful})
	return nil
}

func (n *Node) Close(ctx context.Context) error {
	n.Closed = true
	return nil
}

// CommandsMatching returns the recorded commands containing substr.
func (n *Node) CommandsMatching(substr string) []string {
	var out []string
	for _, c := range n.Commands {
		if strings.Contains(c, substr) {
			out = append(out, c)
		}
	}
	return out
}
