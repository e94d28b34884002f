// Package kafka contains the Kafka-stack services: the ZooKeeper ensemble,
// the Kafka brokers, the REST proxy, and the schema registry. Each service
// composes the generic lifecycle engine with its own configuration, launch
// and stop commands, and readiness signal.
package kafka

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"
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
	// BrokerPort is the fixed port brokers listen on.
	BrokerPort = 9092

	defaultSettle = 5 * time.Second
)

// TopicSpec describes a topic created on the cluster right after the brokers
// come up.
type TopicSpec struct {
	Partitions        int
	ReplicationFactor int
}

// Kafka is a symmetric broker cluster. Every broker gets a numeric identity
// from its position and embeds the coordination service's connection string
// in its configuration.
type Kafka struct {
	*service.Service

	coord    service.Dependency
	topics   map[string]TopicSpec
	settle   time.Duration
	renderer service.Renderer

	svcOpts []service.Option
}

type KafkaOption func(k *Kafka)

func WithKafkaSettle(d time.Duration) KafkaOption {
	return func(k *Kafka) {
		k.settle = d
	}
}

// WithTopics pre-creates the given topics on the first broker once the whole
// cluster is up.
func WithTopics(topics map[string]TopicSpec) KafkaOption {
	return func(k *Kafka) {
		k.topics = topics
	}
}

func WithKafkaRenderer(r service.Renderer) KafkaOption {
	return func(k *Kafka) {
		k.renderer = r
	}
}

func WithKafkaServiceOptions(opts ...service.Option) KafkaOption {
	return func(k *Kafka) {
		k.svcOpts = append(k.svcOpts, opts...)
	}
}

// NewKafka allocates n broker nodes. coord is the already-constructed
// coordination service; its connection descriptor is re-derived at every
// start, so topology changes in the dependency are picked up automatically.
func NewKafka(ctx context.Context, c cluster.Cluster, n int, coord service.Dependency, opts ...KafkaOption) (*Kafka, error) {
	k := &Kafka{
		coord:  coord,
		settle: defaultSettle,
	}
	for _, o := range opts {
		o(k)
	}
	if k.renderer == nil {
		r, err := newRenderer()
		if err != nil {
			return nil, err
		}
		k.renderer = r
	}
	svc, err := service.New(ctx, c, n, k, k.svcOpts...)
	if err != nil {
		return nil, err
	}
	k.Service = svc
	return k, nil
}

// Start verifies the coordination service is running, starts every broker,
// then creates any requested topics.
func (k *Kafka) Start(ctx context.Context) error {
	if err := service.RequireRunning(k.Name(), k.coord); err != nil {
		return err
	}
	if err := k.Service.Start(ctx); err != nil {
		return err
	}
	return k.createTopics(ctx)
}

func (k *Kafka) createTopics(ctx context.Context) error {
	if len(k.topics) == 0 {
		return nil
	}
	// any node is fine here
	node := k.Nodes()[0]
	names := make([]string, 0, len(k.topics))
	for name := range k.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec := k.topics[name]
		if spec.Partitions == 0 {
			spec.Partitions = 1
		}
		if spec.ReplicationFactor == 0 {
			spec.ReplicationFactor = 1
		}
		cmd := fmt.Sprintf("/opt/kafka/bin/kafka-topics.sh --zookeeper %s --create --topic %s --partitions %d --replication-factor %d",
			k.coord.ConnectionDescriptor(), name, spec.Partitions, spec.ReplicationFactor)
		if err := cluster.Run(ctx, node, cmd); err != nil {
			return fmt.Errorf("creating topic %s: %w", name, err)
		}
	}
	return nil
}

// BootstrapServers joins every broker's host:port, in node order.
func (k *Kafka) BootstrapServers() string {
	var addrs []string
	for _, n := range k.Nodes() {
		addrs = append(addrs, fmt.Sprintf("%s:%d", n.Hostname(), BrokerPort))
	}
	return strings.Join(addrs, ",")
}

func (k *Kafka) ConnectionDescriptor() string { return k.BootstrapServers() }

// Definition

func (k *Kafka) Name() string        { return "kafka" }
func (k *Kafka) ProcessName() string { return "kafka" }

func (k *Kafka) Prepare(ctx context.Context, nc *service.NodeContext) error { return nil }

func (k *Kafka) ConfigFiles(nc *service.NodeContext) ([]service.File, error) {
	content, err := k.renderer.Render("kafka.properties.tmpl", map[string]any{
		"BrokerID":  nc.ID,
		"Hostname":  nc.Node.Hostname(),
		"Port":      BrokerPort,
		"ZKConnect": k.coord.ConnectionDescriptor(),
	})
	if err != nil {
		return nil, err
	}
	return []service.File{{Path: "/mnt/kafka.properties", Content: content}}, nil
}

func (k *Kafka) LaunchCommands(nc *service.NodeContext) []string {
	return []string{"/opt/kafka/bin/kafka-server-start.sh /mnt/kafka.properties 1>> /mnt/kafka.log 2>> /mnt/kafka.log &"}
}

func (k *Kafka) StopCommands(nc *service.NodeContext) []string {
	// the stop script doesn't wait, the stop settle below covers it
	return []string{"/opt/kafka/bin/kafka-server-stop.sh"}
}

func (k *Kafka) CleanPaths(nc *service.NodeContext) []string {
	return []string{"/mnt/kafka-logs", "/mnt/kafka.properties", "/mnt/kafka.log"}
}

func (k *Kafka) Readiness(nc *service.NodeContext) service.Readiness {
	return service.Readiness{Settle: k.settle, StopSettle: k.settle}
}
