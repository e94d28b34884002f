package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/andrwng/ducktape/cluster"
	"github.com/andrwng/ducktape/service"
)

// ClientPort is the fixed port ZooKeeper serves clients on.
const ClientPort = 2181

// Zookeeper is the coordination ensemble. All nodes are peers; each one gets
// a numeric identity from its position, and every node's configuration embeds
// the full peer list. There is no health endpoint, so readiness is a timed
// wait.
type Zookeeper struct {
	*service.Service

	settle   time.Duration
	renderer service.Renderer

	svcOpts []service.Option
}

type ZookeeperOption func(z *Zookeeper)

func WithZookeeperSettle(d time.Duration) ZookeeperOption {
	return func(z *Zookeeper) {
		z.settle = d
	}
}

func WithZookeeperRenderer(r service.Renderer) ZookeeperOption {
	return func(z *Zookeeper) {
		z.renderer = r
	}
}

func WithZookeeperServiceOptions(opts ...service.Option) ZookeeperOption {
	return func(z *Zookeeper) {
		z.svcOpts = append(z.svcOpts, opts...)
	}
}

// NewZookeeper allocates n ensemble nodes from the cluster.
func NewZookeeper(ctx context.Context, c cluster.Cluster, n int, opts ...ZookeeperOption) (*Zookeeper, error) {
	z := &Zookeeper{settle: defaultSettle}
	for _, o := range opts {
		o(z)
	}
	if z.renderer == nil {
		r, err := newRenderer()
		if err != nil {
			return nil, err
		}
		z.renderer = r
	}
	svc, err := service.New(ctx, c, n, z, z.svcOpts...)
	if err != nil {
		return nil, err
	}
	z.Service = svc
	return z, nil
}

// ConnectionDescriptor joins every ensemble member's host:port in node order.
// It is re-derived from the current node set on every call.
func (z *Zookeeper) ConnectionDescriptor() string {
	var addrs []string
	for _, n := range z.Nodes() {
		addrs = append(addrs, fmt.Sprintf("%s:%d", n.Hostname(), ClientPort))
	}
	return strings.Join(addrs, ",")
}

// Definition

func (z *Zookeeper) Name() string        { return "zookeeper" }
func (z *Zookeeper) ProcessName() string { return "zookeeper" }

func (z *Zookeeper) Prepare(ctx context.Context, nc *service.NodeContext) error {
	if err := cluster.Run(ctx, nc.Node, "mkdir -p /mnt/zookeeper"); err != nil {
		return err
	}
	return cluster.Run(ctx, nc.Node, fmt.Sprintf("echo %d > /mnt/zookeeper/myid", nc.ID))
}

func (z *Zookeeper) ConfigFiles(nc *service.NodeContext) ([]service.File, error) {
	type server struct {
		ID       int
		Hostname string
	}
	var servers []server
	for i, n := range nc.All {
		servers = append(servers, server{ID: i + 1, Hostname: n.Hostname()})
	}
	content, err := z.renderer.Render("zookeeper.properties.tmpl", map[string]any{
		"ClientPort": ClientPort,
		"Servers":    servers,
	})
	if err != nil {
		return nil, err
	}
	return []service.File{{Path: "/mnt/zookeeper.properties", Content: content}}, nil
}

func (z *Zookeeper) LaunchCommands(nc *service.NodeContext) []string {
	return []string{"/opt/kafka/bin/zookeeper-server-start.sh /mnt/zookeeper.properties 1>> /mnt/zk.log 2>> /mnt/zk.log &"}
}

func (z *Zookeeper) StopCommands(nc *service.NodeContext) []string {
	// The REST distribution's stop script is better behaved than
	// zookeeper-server-stop.sh: it waits, and sends SIGTERM instead of SIGINT.
	return []string{"/opt/kafka-rest/bin/kafka-rest-stop-service zookeeper"}
}

func (z *Zookeeper) CleanPaths(nc *service.NodeContext) []string {
	return []string{"/mnt/zookeeper", "/mnt/zookeeper.properties", "/mnt/zk.log"}
}

func (z *Zookeeper) Readiness(nc *service.NodeContext) service.Readiness {
	return service.Readiness{Settle: z.settle}
}
