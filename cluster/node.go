package cluster

import (
	"context"
	"fmt"
	"io"
)

// RunRequest describes a shell command to run on a node. The command is
// executed with "sh -c", so service launch commands can use redirection and
// backgrounding the same way they would over ssh.
type RunRequest struct {
	Command string
	Stdout  io.Writer
	Stderr  io.Writer
}

// Node is generally a host or container, and is a member of a cluster.
// The implementation defines how to coordinate the node.
type Node interface {
	// Hostname returns the name other nodes can reach this node by.
	Hostname() string

	// Run executes the command and blocks until the shell exits, returning the
	// exit code. A non-zero exit code is not an error; an error means the
	// command could not be executed at all.
	Run(ctx context.Context, req RunRequest) (int, error)

	// RunCapture executes the command and returns a lazy stream of its
	// combined output. The stream ends when the command exits; the caller must
	// close it.
	RunCapture(ctx context.Context, command string) (io.ReadCloser, error)

	// WriteFile creates a file on the node, creating intermediate directories.
	WriteFile(ctx context.Context, path string, contents io.Reader) error

	// KillProcess kills processes matching name, with SIGTERM when graceful.
	// Matching nothing is not an error.
	KillProcess(ctx context.Context, name string, graceful bool) error

	// Close tears down the node-side transport state.
	Close(ctx context.Context) error
}

type Nodes []Node

// Hostnames returns the hostnames of the nodes, in order.
func (ns Nodes) Hostnames() []string {
	var hs []string
	for _, n := range ns {
		hs = append(hs, n.Hostname())
	}
	return hs
}

// Run runs the command on the node and converts a non-zero exit code into an
// error that includes the node and the command attempted.
func Run(ctx context.Context, n Node, command string) error {
	code, err := n.Run(ctx, RunRequest{Command: command})
	if err != nil {
		return fmt.Errorf("running %q on %s: %w", command, n.Hostname(), err)
	}
	if code != 0 {
		return fmt.Errorf("running %q on %s: non-zero exit code %d", command, n.Hostname(), code)
	}
	return nil
}
