package docker

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/andrwng/ducktape/agent"
	clusteriface "github.com/andrwng/ducktape/cluster"
	"github.com/andrwng/ducktape/internal/net"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const chars = "abcefghijklmnopqrstuvwxyz0123456789"

const agentPort = "8080"

func init() {
	rand.Seed(time.Now().UnixNano())
}

func randString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = chars[rand.Intn(len(chars))]
	}
	return string(b)
}

type CreateContainerConfig struct {
	Name             string
	ContainerConfig  *container.Config
	HostConfig       *container.HostConfig
	NetworkingConfig *network.NetworkingConfig
	Platform         *specs.Platform
}

// Cluster runs nodes as Docker containers on the local host. Containers
// share a dedicated bridge network and reach each other by node hostname, so
// configuration rendered with those hostnames works unmodified. The
// underlying host must have a Docker daemon running; standard environment
// variables for configuring the Docker client (DOCKER_HOST etc.) are
// honored.
type Cluster struct {
	Log             *zap.SugaredLogger
	AgentBin        string
	BaseImage       string
	ContainerPrefix string
	DockerClient    *client.Client
	// CreateContainerConfig, when set, can adjust each container's config
	// before creation (e.g. add mounts for service install trees).
	CreateContainerConfig func(*CreateContainerConfig) error

	mut           sync.Mutex
	nodes         map[string]*Node // keyed by container ID
	nodeIDCounter int
	networkID     string

	imagePulled bool
}

func (c *Cluster) WithLogger(l *zap.SugaredLogger) *Cluster {
	c.Log = l.Named("docker_cluster")
	return c
}

func (c *Cluster) WithAgentBin(p string) *Cluster {
	c.AgentBin = p
	return c
}

func (c *Cluster) WithBaseImage(img string) *Cluster {
	c.BaseImage = img
	return c
}

func (c *Cluster) WithCreateContainerConfig(f func(*CreateContainerConfig) error) *Cluster {
	c.CreateContainerConfig = f
	return c
}

// NewCluster creates a new local Docker cluster. agentBin is the path to a
// Linux agent binary, bind-mounted into each container as its entrypoint.
func NewCluster(agentBin string) (*Cluster, error) {
	log, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("instantiating default logger: %w", err)
	}
	dockerClient, err := client.NewClientWithOpts(client.FromEnv)
	if err != nil {
		return nil, fmt.Errorf("building Docker client: %w", err)
	}
	c := &Cluster{
		AgentBin:        agentBin,
		BaseImage:       "ubuntu:jammy",
		DockerClient:    dockerClient,
		ContainerPrefix: randString(6),
		nodes:           map[string]*Node{},
	}
	return c.WithLogger(log.Sugar()), nil
}

func MustNewCluster(agentBin string) *Cluster {
	c, err := NewCluster(agentBin)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Cluster) ensureImagePulled(ctx context.Context) error {
	if c.imagePulled {
		return nil
	}
	out, err := c.DockerClient.ImagePull(ctx, c.BaseImage, types.ImagePullOptions{})
	if err != nil {
		if out != nil {
			out.Close()
		}
		return err
	}
	defer out.Close()
	_, err = io.Copy(io.Discard, out)
	if err != nil {
		return fmt.Errorf("reading Docker pull response: %w", err)
	}
	c.imagePulled = true
	return nil
}

func (c *Cluster) ensureNetwork(ctx context.Context) (string, error) {
	c.mut.Lock()
	defer c.mut.Unlock()
	if c.networkID != "" {
		return c.networkID, nil
	}
	resp, err := c.DockerClient.NetworkCreate(ctx, "ducktape-"+c.ContainerPrefix, types.NetworkCreate{
		Driver: "bridge",
	})
	if err != nil {
		return "", fmt.Errorf("creating Docker network: %w", err)
	}
	c.networkID = resp.ID
	return c.networkID, nil
}

func (c *Cluster) Allocate(ctx context.Context, n int) (clusteriface.Nodes, error) {
	if err := c.ensureImagePulled(ctx); err != nil {
		return nil, fmt.Errorf("pulling image: %w", err)
	}
	networkID, err := c.ensureNetwork(ctx)
	if err != nil {
		return nil, err
	}

	c.mut.Lock()
	startID := c.nodeIDCounter + 1
	c.nodeIDCounter += n
	c.mut.Unlock()

	var newNodes clusteriface.Nodes
	for i := 0; i < n; i++ {
		id := startID + i
		hostname := fmt.Sprintf("ducktape-%s-%d", c.ContainerPrefix, id)

		hostPort, err := net.EphemeralTCPPort()
		if err != nil {
			return nil, fmt.Errorf("acquiring ephemeral port: %w", err)
		}

		ccConfig := CreateContainerConfig{
			ContainerConfig: &container.Config{
				Image:        c.BaseImage,
				Hostname:     hostname,
				Entrypoint:   []string{"/ducktape-agent", "--listen-addr", "0.0.0.0:" + agentPort},
				ExposedPorts: nat.PortSet{agentPort: struct{}{}},
			},
			HostConfig: &container.HostConfig{
				Binds:        []string{fmt.Sprintf("%s:/ducktape-agent", c.AgentBin)},
				PortBindings: nat.PortMap{agentPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: strconv.Itoa(hostPort)}}},
			},
			NetworkingConfig: &network.NetworkingConfig{
				EndpointsConfig: map[string]*network.EndpointSettings{
					"ducktape-" + c.ContainerPrefix: {
						NetworkID: networkID,
						Aliases:   []string{hostname},
					},
				},
			},
			Name: hostname,
		}

		if c.CreateContainerConfig != nil {
			if err := c.CreateContainerConfig(&ccConfig); err != nil {
				return nil, fmt.Errorf("calling CreateContainerConfig function: %w", err)
			}
		}

		createResp, err := c.DockerClient.ContainerCreate(
			ctx,
			ccConfig.ContainerConfig,
			ccConfig.HostConfig,
			ccConfig.NetworkingConfig,
			ccConfig.Platform,
			ccConfig.Name,
		)
		if err != nil {
			return nil, fmt.Errorf("creating Docker container: %w", err)
		}

		if err := c.DockerClient.ContainerStart(ctx, createResp.ID, types.ContainerStartOptions{}); err != nil {
			return nil, fmt.Errorf("starting container %q: %w", createResp.ID, err)
		}

		agentClient, err := agent.NewClient(c.Log, hostname, "127.0.0.1", hostPort,
			agent.WithClientWaitInterval(100*time.Millisecond))
		if err != nil {
			return nil, fmt.Errorf("building agent client: %w", err)
		}

		node := &Node{
			ID:            id,
			ContainerName: hostname,
			ContainerID:   createResp.ID,
			HostPort:      hostPort,
			agentClient:   agentClient,
			dockerClient:  c.DockerClient,
		}
		newNodes = append(newNodes, node)

		c.mut.Lock()
		c.nodes[createResp.ID] = node
		c.mut.Unlock()
	}

	for _, n := range newNodes {
		if err := n.(*Node).agentClient.WaitForReady(ctx); err != nil {
			return nil, fmt.Errorf("waiting for agent on %s: %w", n.Hostname(), err)
		}
	}
	return newNodes, nil
}

func (c *Cluster) Release(node clusteriface.Node) {
	dn, ok := node.(*Node)
	if !ok {
		return
	}
	c.mut.Lock()
	delete(c.nodes, dn.ContainerID)
	c.mut.Unlock()
	if err := dn.remove(context.Background()); err != nil {
		c.Log.Warnf("removing container for %s: %s", dn.Hostname(), err)
	}
}

func (c *Cluster) Cleanup(ctx context.Context) error {
	c.mut.Lock()
	nodes := c.nodes
	c.nodes = map[string]*Node{}
	networkID := c.networkID
	c.networkID = ""
	c.nodeIDCounter = 0
	c.mut.Unlock()

	var merr error
	for _, n := range nodes {
		if err := n.remove(ctx); err != nil {
			merr = multierr.Append(merr, fmt.Errorf("removing node %s: %w", n, err))
		}
	}
	if networkID != "" {
		if err := c.DockerClient.NetworkRemove(ctx, networkID); err != nil {
			merr = multierr.Append(merr, fmt.Errorf("removing network: %w", err))
		}
	}
	return merr
}
