package kafka

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/andrwng/ducktape/cluster"
	"github.com/andrwng/ducktape/service"
)

var registryHeaders = map[string]string{"Accept": "application/vnd.schemaregistry.v1+json"}

// masterKey is the coordination-service key the registry's elected master
// registers itself under.
const masterKey = "/schema-registry-master"

// SchemaRegistry is the schema registry. Unlike every other service here its
// master is elected dynamically: the registry instances race for a
// coordination-service key, and MasterNode discovers the winner after the
// fact by reading that key back.
type SchemaRegistry struct {
	*service.Service

	coord   service.Dependency
	brokers service.Dependency

	port          int
	healthTimeout time.Duration
	renderer      service.Renderer

	svcOpts []service.Option
}

type SchemaRegistryOption func(s *SchemaRegistry)

func WithRegistryPort(port int) SchemaRegistryOption {
	return func(s *SchemaRegistry) {
		s.port = port
	}
}

func WithRegistryHealthTimeout(d time.Duration) SchemaRegistryOption {
	return func(s *SchemaRegistry) {
		s.healthTimeout = d
	}
}

func WithRegistryRenderer(r service.Renderer) SchemaRegistryOption {
	return func(s *SchemaRegistry) {
		s.renderer = r
	}
}

func WithRegistryServiceOptions(opts ...service.Option) SchemaRegistryOption {
	return func(s *SchemaRegistry) {
		s.svcOpts = append(s.svcOpts, opts...)
	}
}

func NewSchemaRegistry(ctx context.Context, c cluster.Cluster, n int, coord, brokers service.Dependency, opts ...SchemaRegistryOption) (*SchemaRegistry, error) {
	s := &SchemaRegistry{
		coord:         coord,
		brokers:       brokers,
		port:          8080,
		healthTimeout: defaultHealthTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	if s.renderer == nil {
		r, err := newRenderer()
		if err != nil {
			return nil, err
		}
		s.renderer = r
	}
	svc, err := service.New(ctx, c, n, s, s.svcOpts...)
	if err != nil {
		return nil, err
	}
	s.Service = svc
	return s, nil
}

func (s *SchemaRegistry) Start(ctx context.Context) error {
	if err := service.RequireRunning(s.Name(), s.coord, s.brokers); err != nil {
		return err
	}
	return s.Service.Start(ctx)
}

// URL returns the base URL of the node with the given one-based index.
func (s *SchemaRegistry) URL(idx int) string {
	return fmt.Sprintf("http://%s:%d", s.Nodes()[idx-1].Hostname(), s.port)
}

func (s *SchemaRegistry) ConnectionDescriptor() string { return s.URL(1) }

// masterInfo is the payload the elected master writes under masterKey.
type masterInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// MasterNode queries the coordination service for the currently elected
// master and maps it back to the owning node. The lookup output is scanned
// line by line; the first line carrying a {host, port} object wins. Finding
// no master is fatal.
func (s *SchemaRegistry) MasterNode(ctx context.Context) (cluster.Node, error) {
	node := s.Nodes()[0]
	cmd := fmt.Sprintf("/opt/kafka/bin/kafka-run-class.sh kafka.tools.ZooKeeperMainWrapper -server %s get %s",
		s.coord.ConnectionDescriptor(), masterKey)

	out, err := node.RunCapture(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", masterKey, err)
	}
	defer out.Close()

	info, ok := scanMasterInfo(out)
	if !ok {
		return nil, fmt.Errorf("no master registered under %s: %w", masterKey, service.ErrMasterNotFound)
	}

	baseURL := fmt.Sprintf("%s:%d", info.Host, info.Port)
	for idx := 1; idx <= len(s.Nodes()); idx++ {
		if strings.Contains(s.URL(idx), baseURL) {
			return s.Nodes()[idx-1], nil
		}
	}
	return nil, fmt.Errorf("master %s is not one of this service's nodes: %w", baseURL, service.ErrMasterNotFound)
}

// scanMasterInfo scans lookup output for the first line carrying the master's
// registration object. Lines may append fields or trailing data after the
// object; only the minimal {host, port} schema is required.
func scanMasterInfo(out io.Reader) (masterInfo, bool) {
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		line := scanner.Text()
		i := strings.IndexByte(line, '{')
		if i < 0 {
			continue
		}
		var info masterInfo
		dec := json.NewDecoder(strings.NewReader(line[i:]))
		if err := dec.Decode(&info); err != nil {
			continue
		}
		if info.Host == "" || info.Port == 0 {
			continue
		}
		return info, true
	}
	return masterInfo{}, false
}

// Definition

func (s *SchemaRegistry) Name() string        { return "schema-registry" }
func (s *SchemaRegistry) ProcessName() string { return "schema-registry" }

func (s *SchemaRegistry) Prepare(ctx context.Context, nc *service.NodeContext) error { return nil }

func (s *SchemaRegistry) ConfigFiles(nc *service.NodeContext) ([]service.File, error) {
	content, err := s.renderer.Render("schema-registry.properties.tmpl", map[string]any{
		"Port":             s.port,
		"ZKConnect":        s.coord.ConnectionDescriptor(),
		"BootstrapServers": s.brokers.ConnectionDescriptor(),
		"KafkastoreTopic":  "_schemas",
	})
	if err != nil {
		return nil, err
	}
	return []service.File{{Path: "/mnt/schema-registry.properties", Content: content}}, nil
}

func (s *SchemaRegistry) LaunchCommands(nc *service.NodeContext) []string {
	return []string{"/opt/schema-registry/bin/schema-registry-start /mnt/schema-registry.properties 1>> /mnt/schema-registry.log 2>> /mnt/schema-registry.log &"}
}

func (s *SchemaRegistry) StopCommands(nc *service.NodeContext) []string {
	return []string{"/opt/schema-registry/bin/schema-registry-stop"}
}

func (s *SchemaRegistry) CleanPaths(nc *service.NodeContext) []string {
	return []string{"/mnt/schema-registry.properties", "/mnt/schema-registry.log"}
}

func (s *SchemaRegistry) Readiness(nc *service.NodeContext) service.Readiness {
	return service.Readiness{
		Port:    s.port,
		Headers: registryHeaders,
		Timeout: s.healthTimeout,
	}
}
