// Package service contains the generic lifecycle engine for distributed
// services under test. A Service owns an ordered set of cluster nodes and
// drives each of them through Unstarted -> Starting -> Running -> Stopping ->
// Stopped, delegating the service-specific pieces (configuration, launch and
// stop commands, readiness) to a Definition.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/andrwng/ducktape/cluster"
	"go.uber.org/zap"
)

type Service struct {
	def     Definition
	cluster cluster.Cluster
	log     *zap.SugaredLogger
	probe   HTTPProbe

	// owned is false for layered services, which borrow another service's
	// nodes and must not release them.
	owned bool

	nodes   cluster.Nodes
	states  []State
	running bool
	stopped bool
}

type Option func(s *Service)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Service) {
		s.log = l
	}
}

func WithProbe(p HTTPProbe) Option {
	return func(s *Service) {
		s.probe = p
	}
}

// New allocates n nodes from the cluster and returns a service driving def
// over them. The nodes are owned by the service until Stop releases them.
func New(ctx context.Context, c cluster.Cluster, n int, def Definition, opts ...Option) (*Service, error) {
	nodes, err := c.Allocate(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("allocating %d nodes for %s: %w", n, def.Name(), err)
	}
	s := &Service{
		def:     def,
		cluster: c,
		owned:   true,
		nodes:   nodes,
		states:  make([]State, len(nodes)),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("building default logger: %w", err)
		}
		s.log = logger.Sugar()
	}
	s.log = s.log.Named(def.Name())
	return s, nil
}

// Layer returns a service that drives def over the same nodes as parent.
// The layer borrows the nodes: stopping the layer never releases them, that
// stays with the parent. Scheduler layers on top of the base filesystem are
// modeled this way.
func Layer(parent *Service, def Definition, opts ...Option) *Service {
	s := &Service{
		def:    def,
		owned:  false,
		nodes:  parent.nodes,
		states: make([]State, len(parent.nodes)),
		log:    parent.log,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.Named(def.Name())
	return s
}

func (s *Service) Name() string { return s.def.Name() }

func (s *Service) Nodes() cluster.Nodes { return s.nodes }

// NodeState returns the lifecycle state of the node at index i.
func (s *Service) NodeState(i int) State { return s.states[i] }

// Running reports whether the service has completed a Start and has not been
// stopped since.
func (s *Service) Running() bool { return s.running && !s.stopped }

// Start drives every node, in order, through clean, configure, launch, and
// the readiness gate. Node 0's hostname is established before later nodes are
// configured, so configuration that embeds the master hostname always sees
// it. A readiness failure aborts the remaining node loop; no rollback of
// already-started nodes is attempted, the caller owns recovery via Stop.
func (s *Service) Start(ctx context.Context) error {
	if s.stopped {
		return fmt.Errorf("starting %s after stop: %w", s.def.Name(), ErrInvalidState)
	}
	for i, st := range s.states {
		if st == Starting || st == Running {
			return fmt.Errorf("starting %s: node %s is already %s: %w",
				s.def.Name(), s.nodes[i].Hostname(), st, ErrInvalidState)
		}
	}
	for i := range s.nodes {
		if err := s.startNode(ctx, i, true); err != nil {
			return err
		}
	}
	s.running = true
	return nil
}

// Stop stops every node, in order, wipes its on-disk state, and releases it
// back to the cluster. Teardown is best-effort: a failing stop step is logged
// and swallowed, and every node is released regardless, so resources are
// never leaked by a half-dead cluster. After Stop the service is inert.
func (s *Service) Stop(ctx context.Context) error {
	if s.stopped {
		return fmt.Errorf("stopping %s twice: %w", s.def.Name(), ErrInvalidState)
	}
	for i, node := range s.nodes {
		s.log.Infow("stopping node", "node", node.Hostname(), "index", i)
		s.states[i] = Stopping
		s.cleanNode(ctx, s.nodeContext(i), true)
		s.states[i] = Stopped
		if s.owned {
			s.cluster.Release(node)
		}
	}
	s.stopped = true
	s.running = false
	return nil
}

// StartNode starts a single node, for failure-injection tests. Any process
// left from a previous incarnation is killed first, but on-disk state is
// preserved so the node rejoins with its data intact.
func (s *Service) StartNode(ctx context.Context, node cluster.Node) error {
	i, err := s.indexOf(node)
	if err != nil {
		return err
	}
	if s.stopped {
		return fmt.Errorf("starting node on stopped %s: %w", s.def.Name(), ErrInvalidState)
	}
	if err := node.KillProcess(ctx, s.def.ProcessName(), false); err != nil {
		s.log.Debugw("ignoring kill failure before restart", "node", node.Hostname(), "error", err)
	}
	return s.startNode(ctx, i, false)
}

// StopNode stops a single node without releasing it. cleanShutdown selects a
// graceful kill; either way a process that is already dead is tolerated.
func (s *Service) StopNode(ctx context.Context, node cluster.Node, cleanShutdown bool) error {
	i, err := s.indexOf(node)
	if err != nil {
		return err
	}
	if s.stopped {
		return fmt.Errorf("stopping node on stopped %s: %w", s.def.Name(), ErrInvalidState)
	}
	s.states[i] = Stopping
	if err := node.KillProcess(ctx, s.def.ProcessName(), cleanShutdown); err != nil {
		s.log.Debugw("ignoring kill failure during node stop", "node", node.Hostname(), "error", err)
	}
	s.states[i] = Stopped
	return nil
}

// RestartNode stops the node, waits, and starts it again.
func (s *Service) RestartNode(ctx context.Context, node cluster.Node, wait time.Duration) error {
	if err := s.StopNode(ctx, node, true); err != nil {
		return err
	}
	if err := sleep(ctx, wait); err != nil {
		return err
	}
	return s.StartNode(ctx, node)
}

func (s *Service) startNode(ctx context.Context, i int, clean bool) error {
	nc := s.nodeContext(i)
	s.log.Infow("starting node", "node", nc.Node.Hostname(), "index", i, "role", nc.Role.String())
	s.states[i] = Starting

	if clean {
		// The idempotency guard: a stale process or data directory from a
		// prior run must not fail this one.
		s.cleanNode(ctx, nc, false)
	}

	if err := s.def.Prepare(ctx, nc); err != nil {
		return fmt.Errorf("preparing %s on %s: %w", s.def.Name(), nc.Node.Hostname(), err)
	}

	files, err := s.def.ConfigFiles(nc)
	if err != nil {
		return fmt.Errorf("rendering %s config for %s: %w", s.def.Name(), nc.Node.Hostname(), err)
	}
	for _, f := range files {
		if err := nc.Node.WriteFile(ctx, f.Path, strings.NewReader(f.Content)); err != nil {
			return fmt.Errorf("writing %s to %s: %w", f.Path, nc.Node.Hostname(), err)
		}
	}

	for _, cmd := range s.def.LaunchCommands(nc) {
		if err := cluster.Run(ctx, nc.Node, cmd); err != nil {
			return fmt.Errorf("launching %s: %w", s.def.Name(), err)
		}
	}

	if err := s.awaitReady(ctx, nc); err != nil {
		return err
	}
	s.states[i] = Running
	return nil
}

func (s *Service) awaitReady(ctx context.Context, nc *NodeContext) error {
	r := s.def.Readiness(nc)
	if r.Port > 0 {
		url := fmt.Sprintf("http://%s:%d%s", nc.Node.Hostname(), r.Port, r.Path)
		s.log.Debugw("waiting for HTTP readiness", "url", url)
		if err := s.probe.Wait(ctx, url, r.Headers, r.Timeout); err != nil {
			return fmt.Errorf("%s on %s did not become ready: %w", s.def.Name(), nc.Node.Hostname(), err)
		}
		return nil
	}
	return sleep(ctx, r.Settle)
}

// cleanNode kills any instance of the service on the node and wipes its
// config, data, and log paths. Every step tolerates failure; there may be
// nothing running and nothing on disk.
func (s *Service) cleanNode(ctx context.Context, nc *NodeContext, graceful bool) {
	for _, cmd := range s.def.StopCommands(nc) {
		s.runTolerant(ctx, nc.Node, cmd)
	}
	if d := s.def.Readiness(nc).StopSettle; d > 0 {
		if err := sleep(ctx, d); err != nil {
			return
		}
	}
	if err := nc.Node.KillProcess(ctx, s.def.ProcessName(), graceful); err != nil {
		s.log.Debugw("ignoring kill failure", "node", nc.Node.Hostname(), "error", err)
	}
	if paths := s.def.CleanPaths(nc); len(paths) > 0 {
		s.runTolerant(ctx, nc.Node, "rm -rf "+strings.Join(paths, " "))
	}
}

func (s *Service) runTolerant(ctx context.Context, node cluster.Node, cmd string) {
	if err := cluster.Run(ctx, node, cmd); err != nil {
		s.log.Debugw("ignoring failed cleanup command", "node", node.Hostname(), "error", err)
	}
}

func (s *Service) nodeContext(i int) *NodeContext {
	return &NodeContext{
		Node:           s.nodes[i],
		Index:          i,
		ID:             i + 1,
		Role:           Roles(len(s.nodes))[i],
		MasterHostname: s.nodes[0].Hostname(),
		All:            s.nodes,
	}
}

func (s *Service) indexOf(node cluster.Node) (int, error) {
	for i, n := range s.nodes {
		if n == node {
			return i, nil
		}
	}
	return 0, fmt.Errorf("node %s is not part of %s", node.Hostname(), s.def.Name())
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
