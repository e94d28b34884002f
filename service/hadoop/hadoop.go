// Package hadoop contains the distributed filesystem service and the two
// generations of its resource-scheduling layer. The original services formed
// a deep inheritance chain; here the base filesystem is a plain service and
// each scheduler generation is a layered service over the same nodes.
package hadoop

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/andrwng/ducktape/cluster"
	"github.com/andrwng/ducktape/service"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

func newRenderer() (service.Renderer, error) {
	return service.NewTemplateRenderer(templatesFS, "templates/*.tmpl")
}

const (
	// NameNodePort is the fixed port the namenode listens on.
	NameNodePort = 9000

	javaHome = "/usr/lib/jvm/java-6-oracle"

	defaultSettle = 5 * time.Second
)

// Hadoop is the base distributed filesystem. The node at index 0 is the
// namenode and formats its storage on first start; all other nodes are
// datanodes. Datanodes expose no health endpoint, so readiness is a timed
// wait.
type Hadoop struct {
	*service.Service

	settle   time.Duration
	renderer service.Renderer

	svcOpts []service.Option
}

type Option func(h *Hadoop)

func WithSettle(d time.Duration) Option {
	return func(h *Hadoop) {
		h.settle = d
	}
}

func WithRenderer(r service.Renderer) Option {
	return func(h *Hadoop) {
		h.renderer = r
	}
}

func WithServiceOptions(opts ...service.Option) Option {
	return func(h *Hadoop) {
		h.svcOpts = append(h.svcOpts, opts...)
	}
}

// New allocates n filesystem nodes from the cluster.
func New(ctx context.Context, c cluster.Cluster, n int, opts ...Option) (*Hadoop, error) {
	h := &Hadoop{settle: defaultSettle}
	for _, o := range opts {
		o(h)
	}
	if h.renderer == nil {
		r, err := newRenderer()
		if err != nil {
			return nil, err
		}
		h.renderer = r
	}
	svc, err := service.New(ctx, c, n, h, h.svcOpts...)
	if err != nil {
		return nil, err
	}
	h.Service = svc
	return h, nil
}

// MasterHostname returns the namenode's hostname.
func (h *Hadoop) MasterHostname() string {
	return h.Nodes()[0].Hostname()
}

// ConnectionDescriptor returns the filesystem URI clients mount.
func (h *Hadoop) ConnectionDescriptor() string {
	return fmt.Sprintf("hdfs://%s:%d", h.MasterHostname(), NameNodePort)
}

// Definition

func (h *Hadoop) Name() string        { return "hadoop" }
func (h *Hadoop) ProcessName() string { return "java" }

func (h *Hadoop) Prepare(ctx context.Context, nc *service.NodeContext) error {
	if err := cluster.Run(ctx, nc.Node, "mkdir -p /mnt/data"); err != nil {
		return err
	}
	return cluster.Run(ctx, nc.Node, "mkdir -p /mnt/name")
}

func (h *Hadoop) ConfigFiles(nc *service.NodeContext) ([]service.File, error) {
	env, err := h.renderer.Render("hadoop-env.sh.tmpl", map[string]any{
		"JavaHome": javaHome,
	})
	if err != nil {
		return nil, err
	}
	coreSite, err := h.renderer.Render("core-site.xml.tmpl", map[string]any{
		"FSDefaultName": fmt.Sprintf("hdfs://%s:%d", nc.MasterHostname, NameNodePort),
	})
	if err != nil {
		return nil, err
	}
	hdfsSite, err := h.renderer.Render("hdfs-site.xml.tmpl", map[string]any{
		"Replication": 1,
		"NameDir":     "/mnt/name",
		"DataDir":     "/mnt/data",
	})
	if err != nil {
		return nil, err
	}
	return []service.File{
		{Path: "/mnt/hadoop-env.sh", Content: env},
		{Path: "/mnt/core-site.xml", Content: coreSite},
		{Path: "/mnt/hdfs-site.xml", Content: hdfsSite},
	}, nil
}

func (h *Hadoop) LaunchCommands(nc *service.NodeContext) []string {
	if nc.Role == service.RoleMaster {
		return []string{
			// format only if the name dir hasn't been formatted yet, so a
			// single-node restart doesn't wipe the filesystem
			"[ -e /mnt/name/current ] || HADOOP_CONF_DIR=/mnt /opt/hadoop-cdh/bin/hadoop namenode -format",
			"/opt/hadoop-cdh/sbin/hadoop-daemon.sh --config /mnt start namenode &",
		}
	}
	return []string{"/opt/hadoop-cdh/sbin/hadoop-daemon.sh --config /mnt start datanode &"}
}

func (h *Hadoop) StopCommands(nc *service.NodeContext) []string {
	return []string{
		"/opt/hadoop-cdh/sbin/hadoop-daemon.sh --config /mnt stop datanode",
		"/opt/hadoop-cdh/sbin/hadoop-daemon.sh --config /mnt stop namenode",
	}
}

func (h *Hadoop) CleanPaths(nc *service.NodeContext) []string {
	return []string{
		"/mnt/name", "/mnt/data", "/mnt/logs",
		"/mnt/hadoop-env.sh", "/mnt/core-site.xml", "/mnt/hdfs-site.xml",
	}
}

func (h *Hadoop) Readiness(nc *service.NodeContext) service.Readiness {
	return service.Readiness{Settle: h.settle, StopSettle: h.settle}
}
