package docker

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/andrwng/ducktape/agent"
	clusteriface "github.com/andrwng/ducktape/cluster"
)

// Node is a Docker container running the node agent. All operations are
// delegated to the agent over the container's published port.
type Node struct {
	ID            int
	ContainerName string
	ContainerID   string
	HostPort      int
	dockerClient  *client.Client
	agentClient   *agent.Client
}

func (n *Node) Hostname() string {
	return n.agentClient.Hostname()
}

func (n *Node) Run(ctx context.Context, req clusteriface.RunRequest) (int, error) {
	return n.agentClient.Run(ctx, req)
}

func (n *Node) RunCapture(ctx context.Context, command string) (io.ReadCloser, error) {
	return n.agentClient.RunCapture(ctx, command)
}

func (n *Node) WriteFile(ctx context.Context, path string, contents io.Reader) error {
	return n.agentClient.WriteFile(ctx, path, contents)
}

func (n *Node) KillProcess(ctx context.Context, name string, graceful bool) error {
	return n.agentClient.KillProcess(ctx, name, graceful)
}

func (n *Node) Close(ctx context.Context) error {
	return n.agentClient.Close(ctx)
}

func (n *Node) remove(ctx context.Context) error {
	err := n.dockerClient.ContainerRemove(ctx, n.ContainerID, types.ContainerRemoveOptions{
		RemoveVolumes: true,
		Force:         true,
	})
	if err != nil {
		return fmt.Errorf("removing container %q: %w", n.ContainerID, err)
	}
	return nil
}

func (n *Node) String() string {
	return fmt.Sprintf("docker node id=%d container=%s", n.ID, n.ContainerName)
}
