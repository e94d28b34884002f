package service

import (
	"context"
	"time"

	"github.com/andrwng/ducktape/cluster"
)

// File is a rendered configuration file destined for a fixed path on a node.
type File struct {
	Path    string
	Content string
}

// Readiness describes how a node signals that it has reached the Running
// state. When Port is non-zero the node is polled over HTTP until a 2xx
// response or Timeout elapses. Otherwise the node is assumed ready after a
// fixed Settle delay; services without a reliable health endpoint (the
// coordination service, filesystem datanodes) only get the timed wait.
type Readiness struct {
	Port    int
	Path    string
	Headers map[string]string
	Timeout time.Duration

	Settle time.Duration

	// StopSettle is the delay after the stop commands run, for stop scripts
	// that return before the process has exited.
	StopSettle time.Duration
}

// NodeContext carries everything a Definition needs to know about the node
// currently being driven through the lifecycle.
type NodeContext struct {
	Node cluster.Node

	// Index is the node's zero-based position within the service.
	Index int

	// ID is the node's one-based identity, used where services bake a numeric
	// identity into configuration (myid, broker.id).
	ID int

	Role Role

	// MasterHostname is the hostname of the node at index 0.
	MasterHostname string

	// All is the service's full node set, in order. Definitions that embed the
	// whole topology in each node's configuration (ensemble peer lists) read
	// it from here.
	All cluster.Nodes
}

// Definition is the per-service-kind strategy driven by the generic Service
// lifecycle. Implementations describe what to run and where; the Service
// decides when, in what order, and what to do when steps fail.
type Definition interface {
	// Name identifies the service in logs and errors.
	Name() string

	// ProcessName is the remote process name used for kill-by-name during
	// force-clean and unclean single-node stops.
	ProcessName() string

	// Prepare runs service-specific setup on the node before configuration is
	// written (creating data directories, identity files). Failures abort the
	// node's start.
	Prepare(ctx context.Context, nc *NodeContext) error

	// ConfigFiles renders the node's configuration. Rendering happens at
	// start time, so connection descriptors of dependencies are always
	// re-derived from their current node sets.
	ConfigFiles(nc *NodeContext) ([]File, error)

	// LaunchCommands returns the commands that start the node's processes.
	// Long-running processes are backgrounded by the command itself with
	// output redirected to the service's log path, so each command returns
	// promptly; the Readiness gate is the synchronization point.
	LaunchCommands(nc *NodeContext) []string

	// StopCommands returns the graceful-stop commands. They are run with
	// failures tolerated, since the process may already be dead.
	StopCommands(nc *NodeContext) []string

	// CleanPaths returns the node paths wiped on stop and on pre-start clean.
	CleanPaths(nc *NodeContext) []string

	// Readiness returns the node's readiness signal.
	Readiness(nc *NodeContext) Readiness
}
