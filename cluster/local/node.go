package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	clusteriface "github.com/andrwng/ducktape/cluster"
)

// Node runs commands directly on the underlying host. File writes are
// rerooted under the node's private directory so two local nodes don't
// collide, but processes are not sandboxed: they can see each other and
// everything else on the host. Code that assumes separate hosts may not be
// portable to this.
type Node struct {
	ID  int
	Dir string
}

func (n *Node) Hostname() string {
	return fmt.Sprintf("node%d.local", n.ID)
}

func (n *Node) Run(ctx context.Context, req clusteriface.RunRequest) (int, error) {
	cmd := exec.Command("sh", "-c", req.Command)
	cmd.Dir = n.Dir
	cmd.Stdout = req.Stdout
	cmd.Stderr = req.Stderr

	err := cmd.Start()
	if err != nil {
		return -1, fmt.Errorf("starting command: %w", err)
	}

	procExited := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cmd.Process.Kill()
		case <-procExited:
		}
	}()

	err = cmd.Wait()
	close(procExited)
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

type capture struct {
	pr  *io.PipeReader
	cmd *exec.Cmd
}

func (c *capture) Read(p []byte) (int, error) { return c.pr.Read(p) }

func (c *capture) Close() error {
	if c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
	return c.pr.Close()
}

func (n *Node) RunCapture(ctx context.Context, command string) (io.ReadCloser, error) {
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = n.Dir
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("starting command: %w", err)
	}
	go func() {
		cmd.Wait()
		pw.Close()
	}()
	return &capture{pr: pr, cmd: cmd}, nil
}

func (n *Node) WriteFile(ctx context.Context, filePath string, contents io.Reader) error {
	p := n.path(filePath)
	if err := os.MkdirAll(filepath.Dir(p), 0777); err != nil {
		return fmt.Errorf("making intermediate dirs: %w", err)
	}
	f, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("creating file %q: %w", p, err)
	}
	defer f.Close()
	_, err = io.Copy(f, contents)
	return err
}

func (n *Node) KillProcess(ctx context.Context, name string, graceful bool) error {
	sig := "-9"
	if graceful {
		sig = "-15"
	}
	cmd := exec.Command("pkill", sig, "-f", "--", name)
	err := cmd.Run()
	if err != nil {
		// exit code 1 means no processes matched
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil
		}
		return fmt.Errorf("killing %q: %w", name, err)
	}
	return nil
}

func (n *Node) Close(ctx context.Context) error {
	return os.RemoveAll(n.Dir)
}

func (n *Node) String() string {
	return fmt.Sprintf("local node id=%d", n.ID)
}

// path reroots an absolute node path under the node's private directory.
func (n *Node) path(p string) string {
	return filepath.Join(n.Dir, strings.TrimPrefix(p, "/"))
}
