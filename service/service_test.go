package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/andrwng/ducktape/internal/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// widgetDef is a minimal service definition used to exercise the engine.
type widgetDef struct {
	readiness Readiness
	prepared  []string
}

func (d *widgetDef) Name() string        { return "widget" }
func (d *widgetDef) ProcessName() string { return "widgetd" }

func (d *widgetDef) Prepare(ctx context.Context, nc *NodeContext) error {
	d.prepared = append(d.prepared, nc.Node.Hostname())
	return nil
}

func (d *widgetDef) ConfigFiles(nc *NodeContext) ([]File, error) {
	return []File{{
		Path:    "/mnt/widget.properties",
		Content: fmt.Sprintf("id=%d\nmaster=%s\n", nc.ID, nc.MasterHostname),
	}}, nil
}

func (d *widgetDef) LaunchCommands(nc *NodeContext) []string {
	return []string{"/opt/widget/bin/widget-start.sh /mnt/widget.properties 1>> /mnt/widget.log 2>> /mnt/widget.log &"}
}

func (d *widgetDef) StopCommands(nc *NodeContext) []string {
	return []string{"/opt/widget/bin/widget-stop.sh"}
}

func (d *widgetDef) CleanPaths(nc *NodeContext) []string {
	return []string{"/mnt/widget.properties", "/mnt/widget-data", "/mnt/widget.log"}
}

func (d *widgetDef) Readiness(nc *NodeContext) Readiness { return d.readiness }

func newWidget(t *testing.T, c *mock.Cluster, n int, def Definition, opts ...Option) *Service {
	t.Helper()
	opts = append(opts, WithLogger(zaptest.NewLogger(t).Sugar()))
	s, err := New(context.Background(), c, n, def, opts...)
	require.NoError(t, err)
	return s
}

func TestStartDrivesEveryNodeToRunning(t *testing.T) {
	ctx := context.Background()
	c := mock.NewCluster("host1", "host2")
	def := &widgetDef{}
	s := newWidget(t, c, 2, def)

	require.NoError(t, s.Start(ctx))
	assert.True(t, s.Running())
	for i := range s.Nodes() {
		assert.Equal(t, Running, s.NodeState(i))
	}

	assert.Equal(t, []string{"host1", "host2"}, def.prepared)
	for i, n := range c.AllNodes {
		assert.Equal(t, fmt.Sprintf("id=%d\nmaster=host1\n", i+1), n.Files["/mnt/widget.properties"])
		assert.Len(t, n.CommandsMatching("widget-start.sh"), 1)
	}
}

func TestStartForceCleansBeforeLaunching(t *testing.T) {
	ctx := context.Background()
	c := mock.NewCluster("host1")
	s := newWidget(t, c, 1, &widgetDef{})

	require.NoError(t, s.Start(ctx))

	// A stale incarnation must be stopped and its state wiped before launch.
	n := c.AllNodes[0]
	var stopIdx, rmIdx, launchIdx int
	for i, cmd := range n.Commands {
		switch {
		case cmd == "/opt/widget/bin/widget-stop.sh":
			stopIdx = i
		case cmd == "rm -rf /mnt/widget.properties /mnt/widget-data /mnt/widget.log":
			rmIdx = i
		case cmd == "/opt/widget/bin/widget-start.sh /mnt/widget.properties 1>> /mnt/widget.log 2>> /mnt/widget.log &":
			launchIdx = i
		}
	}
	assert.Less(t, stopIdx, rmIdx)
	assert.Less(t, rmIdx, launchIdx)
	require.Len(t, n.Kills, 1)
	assert.Equal(t, mock.Kill{Name: "widgetd", Graceful: false}, n.Kills[0])
}

func TestStartSurvivesFailingCleanup(t *testing.T) {
	ctx := context.Background()
	c := mock.NewCluster("host1")
	c.AllNodes[0].FailExit = map[string]int{"widget-stop.sh": 1, "rm -rf": 1}
	s := newWidget(t, c, 1, &widgetDef{})

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, Running, s.NodeState(0))
}

func TestDoubleStartReturnsInvalidState(t *testing.T) {
	ctx := context.Background()
	c := mock.NewCluster("host1")
	s := newWidget(t, c, 1, &widgetDef{})

	require.NoError(t, s.Start(ctx))
	err := s.Start(ctx)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestStartAfterStopReturnsInvalidState(t *testing.T) {
	ctx := context.Background()
	c := mock.NewCluster("host1")
	s := newWidget(t, c, 1, &widgetDef{})

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Stop(ctx))
	require.ErrorIs(t, s.Start(ctx), ErrInvalidState)
}

func TestStopReleasesEveryNodeDespiteFailures(t *testing.T) {
	ctx := context.Background()
	c := mock.NewCluster("host1", "host2")
	s := newWidget(t, c, 2, &widgetDef{})
	require.NoError(t, s.Start(ctx))

	// Every teardown step fails; Stop still succeeds and leaks nothing.
	for _, n := range c.AllNodes {
		n.FailExit = map[string]int{"widget-stop.sh": 1, "rm -rf": 1}
	}
	require.NoError(t, s.Stop(ctx))

	assert.False(t, s.Running())
	assert.Len(t, c.Released, 2)
	assert.Equal(t, 2, c.Free())
	for i := range c.AllNodes {
		assert.Equal(t, Stopped, s.NodeState(i))
	}
}

func TestStopTwiceReturnsInvalidState(t *testing.T) {
	ctx := context.Background()
	c := mock.NewCluster("host1")
	s := newWidget(t, c, 1, &widgetDef{})
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Stop(ctx))
	require.ErrorIs(t, s.Stop(ctx), ErrInvalidState)
}

func TestStartNodePreservesOnDiskState(t *testing.T) {
	ctx := context.Background()
	c := mock.NewCluster("host1")
	s := newWidget(t, c, 1, &widgetDef{})
	require.NoError(t, s.Start(ctx))

	n := c.AllNodes[0]
	require.NoError(t, s.StopNode(ctx, n, false))
	assert.Equal(t, Stopped, s.NodeState(0))

	require.NoError(t, s.StartNode(ctx, n))
	assert.Equal(t, Running, s.NodeState(0))

	// Only the whole-service Start wipes data; a single-node restart must
	// bring the node back with its state intact.
	assert.Len(t, n.CommandsMatching("rm -rf"), 1)
	assert.Len(t, n.CommandsMatching("widget-start.sh"), 2)
}

func TestStopNodeDoesNotRelease(t *testing.T) {
	ctx := context.Background()
	c := mock.NewCluster("host1", "host2")
	s := newWidget(t, c, 2, &widgetDef{})
	require.NoError(t, s.Start(ctx))

	n := c.AllNodes[1]
	require.NoError(t, s.StopNode(ctx, n, true))

	assert.Empty(t, c.Released)
	assert.Equal(t, mock.Kill{Name: "widgetd", Graceful: true}, n.Kills[len(n.Kills)-1])
	assert.Equal(t, Running, s.NodeState(0))
	assert.Equal(t, Stopped, s.NodeState(1))
}

func TestStopNodeOnForeignNodeFails(t *testing.T) {
	ctx := context.Background()
	c := mock.NewCluster("host1", "stranger")
	s := newWidget(t, c, 1, &widgetDef{})
	require.NoError(t, s.Start(ctx))

	require.Error(t, s.StopNode(ctx, c.AllNodes[1], true))
}

func TestRestartNode(t *testing.T) {
	ctx := context.Background()
	c := mock.NewCluster("host1")
	s := newWidget(t, c, 1, &widgetDef{})
	require.NoError(t, s.Start(ctx))

	n := c.AllNodes[0]
	require.NoError(t, s.RestartNode(ctx, n, 0))
	assert.Equal(t, Running, s.NodeState(0))
	assert.Len(t, n.CommandsMatching("widget-start.sh"), 2)
}

func TestLayerBorrowsParentNodes(t *testing.T) {
	ctx := context.Background()
	c := mock.NewCluster("host1", "host2")
	parent := newWidget(t, c, 2, &widgetDef{})
	require.NoError(t, parent.Start(ctx))

	layer := Layer(parent, &widgetDef{})
	require.NoError(t, layer.Start(ctx))
	assert.Equal(t, parent.Nodes(), layer.Nodes())

	// Stopping the layer must not hand the nodes back; they belong to the
	// parent.
	require.NoError(t, layer.Stop(ctx))
	assert.Empty(t, c.Released)

	require.NoError(t, parent.Stop(ctx))
	assert.Len(t, c.Released, 2)
}

func TestHTTPReadinessGate(t *testing.T) {
	ctx := context.Background()

	var healthy bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" && healthy {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	c := mock.NewCluster(u.Hostname())
	def := &widgetDef{readiness: Readiness{
		Port:    port,
		Path:    "/health",
		Timeout: 200 * time.Millisecond,
	}}
	s := newWidget(t, c, 1, def, WithProbe(HTTPProbe{Interval: 10 * time.Millisecond}))

	require.ErrorIs(t, s.Start(ctx), ErrStartupTimeout)

	healthy = true
	s2 := newWidget(t, mock.NewCluster(u.Hostname()), 1, def, WithProbe(HTTPProbe{Interval: 10 * time.Millisecond}))
	require.NoError(t, s2.Start(ctx))
	assert.Equal(t, Running, s2.NodeState(0))
}

func TestSettleWaitHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := mock.NewCluster("host1")
	def := &widgetDef{readiness: Readiness{Settle: time.Minute}}
	s := newWidget(t, c, 1, def)

	require.ErrorIs(t, s.Start(ctx), context.Canceled)
}
