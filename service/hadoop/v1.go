package hadoop

import (
	"context"
	"fmt"

	"github.com/andrwng/ducktape/cluster"
	"github.com/andrwng/ducktape/service"
)

// JobTrackerPort is the fixed port the MR1 jobtracker listens on.
const JobTrackerPort = 54311

// V1 is the first-generation resource scheduler layered on the base
// filesystem: node 0 runs the jobtracker, every other node a tasktracker.
// Starting brings up the filesystem first, then the scheduler layer over the
// same nodes.
type V1 struct {
	*Hadoop

	sched *service.Service
}

// NewV1 allocates n nodes and prepares both the filesystem and its MR1
// scheduler layer.
func NewV1(ctx context.Context, c cluster.Cluster, n int, opts ...Option) (*V1, error) {
	base, err := New(ctx, c, n, opts...)
	if err != nil {
		return nil, err
	}
	v := &V1{Hadoop: base}
	v.sched = service.Layer(base.Service, &mr1Scheduler{hadoop: base})
	return v, nil
}

func (v *V1) Start(ctx context.Context) error {
	if err := v.Hadoop.Start(ctx); err != nil {
		return err
	}
	return v.sched.Start(ctx)
}

// Stop stops the scheduler layer first, then the filesystem. The filesystem
// owns the nodes, so only its stop releases them.
func (v *V1) Stop(ctx context.Context) error {
	if err := v.sched.Stop(ctx); err != nil {
		return err
	}
	return v.Hadoop.Stop(ctx)
}

// mr1Scheduler is the scheduler layer's definition. It kills by the MR1
// daemon package name rather than "java" so cleaning the layer leaves the
// filesystem daemons alone.
type mr1Scheduler struct {
	hadoop *Hadoop
}

func (m *mr1Scheduler) Name() string        { return "mapreduce" }
func (m *mr1Scheduler) ProcessName() string { return "org.apache.hadoop.mapred" }

func (m *mr1Scheduler) Prepare(ctx context.Context, nc *service.NodeContext) error {
	return cluster.Run(ctx, nc.Node, "cp /opt/hadoop-cdh/etc/hadoop-mapreduce1/hadoop-metrics.properties /mnt")
}

func (m *mr1Scheduler) ConfigFiles(nc *service.NodeContext) ([]service.File, error) {
	mapredSite, err := m.hadoop.renderer.Render("mapred-site.xml.tmpl", map[string]any{
		"JobTracker": fmt.Sprintf("%s:%d", nc.MasterHostname, JobTrackerPort),
	})
	if err != nil {
		return nil, err
	}
	return []service.File{{Path: "/mnt/mapred-site.xml", Content: mapredSite}}, nil
}

func (m *mr1Scheduler) LaunchCommands(nc *service.NodeContext) []string {
	if nc.Role == service.RoleMaster {
		return []string{"/opt/hadoop-cdh/bin-mapreduce1/hadoop-daemon.sh --config /mnt start jobtracker &"}
	}
	return []string{"/opt/hadoop-cdh/bin-mapreduce1/hadoop-daemon.sh --config /mnt start tasktracker &"}
}

func (m *mr1Scheduler) StopCommands(nc *service.NodeContext) []string {
	return []string{"/opt/hadoop-cdh/bin-mapreduce1/stop-mapred.sh"}
}

func (m *mr1Scheduler) CleanPaths(nc *service.NodeContext) []string {
	return []string{"/mnt/mapred-site.xml", "/mnt/hadoop-metrics.properties"}
}

func (m *mr1Scheduler) Readiness(nc *service.NodeContext) service.Readiness {
	return service.Readiness{Settle: m.hadoop.settle, StopSettle: m.hadoop.settle}
}
