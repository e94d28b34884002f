package kafka

import (
	"context"
	"strings"
	"testing"

	"github.com/andrwng/ducktape/internal/mock"
	"github.com/andrwng/ducktape/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, c *mock.Cluster, n int) *SchemaRegistry {
	t.Helper()
	s, err := NewSchemaRegistry(context.Background(), c, n,
		runningCoord("zk1:2181"),
		&stubDep{name: "kafka", descriptor: "b1:9092", running: true},
		WithRegistryServiceOptions(testOpts(t)))
	require.NoError(t, err)
	return s
}

func TestMasterNodeDiscovery(t *testing.T) {
	ctx := context.Background()
	c := mock.NewCluster("host1", "host2", "host3")
	s := newTestRegistry(t, c, 3)

	// The registry master registered itself under the election key; the
	// lookup output carries connection noise around the registration object.
	c.AllNodes[0].CaptureOutput = map[string]string{
		"ZooKeeperMainWrapper": strings.Join([]string{
			"Connecting to zk1:2181",
			"WATCHER::",
			"WatchedEvent state:SyncConnected type:None path:null",
			`{"host":"host2","port":8080,"master_eligibility":true,"version":1}`,
			"cZxid = 0x153",
		}, "\n"),
	}

	master, err := s.MasterNode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "host2", master.Hostname())
}

func TestMasterNodeNotRegistered(t *testing.T) {
	ctx := context.Background()
	c := mock.NewCluster("host1", "host2")
	s := newTestRegistry(t, c, 2)

	c.AllNodes[0].CaptureOutput = map[string]string{
		"ZooKeeperMainWrapper": "Node does not exist: /schema-registry-master\n",
	}

	_, err := s.MasterNode(ctx)
	require.ErrorIs(t, err, service.ErrMasterNotFound)
}

func TestMasterNodeOutsideService(t *testing.T) {
	ctx := context.Background()
	c := mock.NewCluster("host1", "host2")
	s := newTestRegistry(t, c, 2)

	c.AllNodes[0].CaptureOutput = map[string]string{
		"ZooKeeperMainWrapper": `{"host":"elsewhere","port":8080}` + "\n",
	}

	_, err := s.MasterNode(ctx)
	require.ErrorIs(t, err, service.ErrMasterNotFound)
}

func TestScanMasterInfo(t *testing.T) {
	for name, tc := range map[string]struct {
		in   string
		want masterInfo
		ok   bool
	}{
		"bare object": {
			in:   `{"host":"host1","port":8080}`,
			want: masterInfo{Host: "host1", Port: 8080},
			ok:   true,
		},
		"leading noise on the same line": {
			in:   `Value: {"host":"host1","port":8080} trailing`,
			want: masterInfo{Host: "host1", Port: 8080},
			ok:   true,
		},
		"extra fields ignored": {
			in:   `{"host":"host1","port":8080,"master_eligibility":true}`,
			want: masterInfo{Host: "host1", Port: 8080},
			ok:   true,
		},
		"first match wins": {
			in:   "{\"host\":\"host1\",\"port\":8080}\n{\"host\":\"host2\",\"port\":8080}",
			want: masterInfo{Host: "host1", Port: 8080},
			ok:   true,
		},
		"malformed object skipped": {
			in:   "{not json}\n{\"host\":\"host2\",\"port\":9090}",
			want: masterInfo{Host: "host2", Port: 9090},
			ok:   true,
		},
		"missing host rejected": {
			in: `{"port":8080}`,
		},
		"missing port rejected": {
			in: `{"host":"host1"}`,
		},
		"no object at all": {
			in: "Node does not exist: /schema-registry-master",
		},
	} {
		t.Run(name, func(t *testing.T) {
			got, ok := scanMasterInfo(strings.NewReader(tc.in))
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestRegistryConfigEmbedsBothDescriptors(t *testing.T) {
	c := mock.NewCluster("host1")
	s := newTestRegistry(t, c, 1)

	files, err := s.ConfigFiles(&service.NodeContext{Node: c.AllNodes[0], ID: 1})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "/mnt/schema-registry.properties", files[0].Path)
	assert.Contains(t, files[0].Content, "kafkastore.connection.url=zk1:2181")
	assert.Contains(t, files[0].Content, "kafkastore.bootstrap.servers=b1:9092")
	assert.Contains(t, files[0].Content, "kafkastore.topic=_schemas")
}
