package hadoop

import (
	"context"
	"fmt"

	"github.com/andrwng/ducktape/cluster"
	"github.com/andrwng/ducktape/service"
)

// JobHistoryPort is the fixed port the YARN job-history server listens on.
const JobHistoryPort = 10020

// V2 is the second-generation resource scheduler layered on the base
// filesystem: node 0 runs the resourcemanager and the job-history server,
// every other node a nodemanager.
type V2 struct {
	*Hadoop

	sched *service.Service
}

// NewV2 allocates n nodes and prepares both the filesystem and its YARN
// scheduler layer.
func NewV2(ctx context.Context, c cluster.Cluster, n int, opts ...Option) (*V2, error) {
	base, err := New(ctx, c, n, opts...)
	if err != nil {
		return nil, err
	}
	v := &V2{Hadoop: base}
	v.sched = service.Layer(base.Service, &yarnScheduler{hadoop: base})
	return v, nil
}

func (v *V2) Start(ctx context.Context) error {
	if err := v.Hadoop.Start(ctx); err != nil {
		return err
	}
	return v.sched.Start(ctx)
}

// Stop stops the scheduler layer first, then the filesystem. The filesystem
// owns the nodes, so only its stop releases them.
func (v *V2) Stop(ctx context.Context) error {
	if err := v.sched.Stop(ctx); err != nil {
		return err
	}
	return v.Hadoop.Stop(ctx)
}

type yarnScheduler struct {
	hadoop *Hadoop
}

func (y *yarnScheduler) Name() string        { return "yarn" }
func (y *yarnScheduler) ProcessName() string { return "org.apache.hadoop.yarn" }

func (y *yarnScheduler) Prepare(ctx context.Context, nc *service.NodeContext) error {
	return cluster.Run(ctx, nc.Node, "cp /opt/hadoop-cdh/etc/hadoop-mapreduce1/hadoop-metrics.properties /mnt")
}

func (y *yarnScheduler) ConfigFiles(nc *service.NodeContext) ([]service.File, error) {
	yarnEnv, err := y.hadoop.renderer.Render("hadoop-env.sh.tmpl", map[string]any{
		"JavaHome": javaHome,
	})
	if err != nil {
		return nil, err
	}
	yarnSite, err := y.hadoop.renderer.Render("yarn-site.xml.tmpl", map[string]any{
		"ResourceManagerHostname": nc.MasterHostname,
	})
	if err != nil {
		return nil, err
	}
	mapredSite, err := y.hadoop.renderer.Render("mapred2-site.xml.tmpl", map[string]any{
		"JobHistoryAddress": fmt.Sprintf("%s:%d", nc.MasterHostname, JobHistoryPort),
	})
	if err != nil {
		return nil, err
	}
	return []service.File{
		{Path: "/mnt/yarn-env.sh", Content: yarnEnv},
		{Path: "/mnt/yarn-site.xml", Content: yarnSite},
		{Path: "/mnt/mapred-site.xml", Content: mapredSite},
	}, nil
}

func (y *yarnScheduler) LaunchCommands(nc *service.NodeContext) []string {
	if nc.Role == service.RoleMaster {
		return []string{
			"/opt/hadoop-cdh/sbin/yarn-daemon.sh --config /mnt start resourcemanager &",
			"/opt/hadoop-cdh/sbin/mr-jobhistory-daemon.sh --config /mnt start historyserver &",
		}
	}
	return []string{"/opt/hadoop-cdh/sbin/yarn-daemon.sh --config /mnt start nodemanager &"}
}

func (y *yarnScheduler) StopCommands(nc *service.NodeContext) []string {
	return []string{
		"/opt/hadoop-cdh/sbin/yarn-daemon.sh --config /mnt stop nodemanager",
		"/opt/hadoop-cdh/sbin/yarn-daemon.sh --config /mnt stop resourcemanager",
		"/opt/hadoop-cdh/sbin/mr-jobhistory-daemon.sh --config /mnt stop historyserver",
	}
}

func (y *yarnScheduler) CleanPaths(nc *service.NodeContext) []string {
	return []string{"/mnt/yarn-env.sh", "/mnt/yarn-site.xml", "/mnt/mapred-site.xml", "/mnt/hadoop-metrics.properties"}
}

func (y *yarnScheduler) Readiness(nc *service.NodeContext) service.Readiness {
	return service.Readiness{Settle: y.hadoop.settle, StopSettle: y.hadoop.settle}
}
