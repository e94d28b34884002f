package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/andrwng/ducktape/cluster"
	"github.com/andrwng/ducktape/service"
)

// restHeaders is sent on readiness probes so the proxy answers with its
// versioned content type instead of an error.
var restHeaders = map[string]string{"Accept": "application/vnd.kafka.v1+json"}

const defaultHealthTimeout = 60 * time.Second

// Rest is the REST proxy. All nodes are symmetric; each embeds both the
// coordination service's and the brokers' connection strings. Readiness is an
// HTTP poll against the proxy port.
type Rest struct {
	*service.Service

	coord   service.Dependency
	brokers service.Dependency

	port          int
	healthTimeout time.Duration
	renderer      service.Renderer

	svcOpts []service.Option
}

type RestOption func(r *Rest)

func WithRestPort(port int) RestOption {
	return func(r *Rest) {
		r.port = port
	}
}

func WithRestHealthTimeout(d time.Duration) RestOption {
	return func(r *Rest) {
		r.healthTimeout = d
	}
}

func WithRestRenderer(rend service.Renderer) RestOption {
	return func(r *Rest) {
		r.renderer = rend
	}
}

func WithRestServiceOptions(opts ...service.Option) RestOption {
	return func(r *Rest) {
		r.svcOpts = append(r.svcOpts, opts...)
	}
}

// NewRest allocates n proxy nodes. coord and brokers must be started before
// the proxy is.
func NewRest(ctx context.Context, c cluster.Cluster, n int, coord, brokers service.Dependency, opts ...RestOption) (*Rest, error) {
	r := &Rest{
		coord:         coord,
		brokers:       brokers,
		port:          8080,
		healthTimeout: defaultHealthTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	if r.renderer == nil {
		rend, err := newRenderer()
		if err != nil {
			return nil, err
		}
		r.renderer = rend
	}
	svc, err := service.New(ctx, c, n, r, r.svcOpts...)
	if err != nil {
		return nil, err
	}
	r.Service = svc
	return r, nil
}

func (r *Rest) Start(ctx context.Context) error {
	if err := service.RequireRunning(r.Name(), r.coord, r.brokers); err != nil {
		return err
	}
	return r.Service.Start(ctx)
}

// URL returns the base URL of the node with the given one-based index.
func (r *Rest) URL(idx int) string {
	return fmt.Sprintf("http://%s:%d", r.Nodes()[idx-1].Hostname(), r.port)
}

func (r *Rest) ConnectionDescriptor() string { return r.URL(1) }

// Definition

func (r *Rest) Name() string        { return "kafka-rest" }
func (r *Rest) ProcessName() string { return "kafka-rest" }

func (r *Rest) Prepare(ctx context.Context, nc *service.NodeContext) error { return nil }

func (r *Rest) ConfigFiles(nc *service.NodeContext) ([]service.File, error) {
	content, err := r.renderer.Render("rest.properties.tmpl", map[string]any{
		"ID":               nc.ID,
		"Port":             r.port,
		"ZKConnect":        r.coord.ConnectionDescriptor(),
		"BootstrapServers": r.brokers.ConnectionDescriptor(),
	})
	if err != nil {
		return nil, err
	}
	return []service.File{{Path: "/mnt/rest.properties", Content: content}}, nil
}

func (r *Rest) LaunchCommands(nc *service.NodeContext) []string {
	return []string{"/opt/kafka-rest/bin/kafka-rest-start /mnt/rest.properties 1>> /mnt/rest.log 2>> /mnt/rest.log &"}
}

func (r *Rest) StopCommands(nc *service.NodeContext) []string {
	return []string{"/opt/kafka-rest/bin/kafka-rest-stop"}
}

func (r *Rest) CleanPaths(nc *service.NodeContext) []string {
	return []string{"/mnt/rest.properties", "/mnt/rest.log"}
}

func (r *Rest) Readiness(nc *service.NodeContext) service.Readiness {
	return service.Readiness{
		Port:    r.port,
		Headers: restHeaders,
		Timeout: r.healthTimeout,
	}
}
