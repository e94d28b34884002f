package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/andrwng/ducktape/cluster"
	internalnet "github.com/andrwng/ducktape/internal/net"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var log *zap.SugaredLogger

func init() {
	l, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	log = l.Sugar()
}

// startAgent runs an agent on an ephemeral port and returns a ready client.
func startAgent(t *testing.T) *Client {
	t.Helper()

	port, err := internalnet.EphemeralTCPPort()
	require.NoError(t, err)

	a, err := New(WithListenAddr(fmt.Sprintf("127.0.0.1:%d", port)))
	require.NoError(t, err)
	go a.Run()
	t.Cleanup(func() {
		require.NoError(t, a.Stop())
	})

	client, err := NewClient(log, "node1.test", "127.0.0.1", port)
	require.NoError(t, err)
	require.NoError(t, client.WaitForReady(context.Background()))
	return client
}

func TestClientHostname(t *testing.T) {
	client := startAgent(t)
	assert.Equal(t, "node1.test", client.Hostname())
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	client := startAgent(t)

	cases := []struct {
		name      string
		command   string
		expCode   int
		expStdout string
		expStderr string
	}{
		{
			name:      "happy case",
			command:   "echo hello",
			expStdout: "hello\n",
		},
		{
			name:      "stdout and stderr",
			command:   "printf foo; printf bar 1>&2",
			expStdout: "foo",
			expStderr: "bar",
		},
		{
			name:    "non-zero exit",
			command: "exit 7",
			expCode: 7,
		},
		{
			name:      "shell pipeline",
			command:   "printf 'a\nb\nc\n' | wc -l | tr -d ' '",
			expStdout: "3\n",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code, err := client.Run(ctx, cluster.RunRequest{
				Command: c.command,
				Stdout:  &stdout,
				Stderr:  &stderr,
			})
			require.NoError(t, err)
			assert.Equal(t, c.expCode, code)
			assert.Equal(t, c.expStdout, stdout.String())
			assert.Equal(t, c.expStderr, stderr.String())
		})
	}
}

func TestWriteFile(t *testing.T) {
	ctx := context.Background()
	client := startAgent(t)

	path := filepath.Join(t.TempDir(), "deep", "nested", "hello")
	require.NoError(t, client.WriteFile(ctx, path, bytes.NewBufferString("hello")))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}

func TestRunCaptureStreamsOutput(t *testing.T) {
	ctx := context.Background()
	client := startAgent(t)

	rc, err := client.RunCapture(ctx, "printf 'line1\nline2\n'")
	require.NoError(t, err)
	defer rc.Close()

	out, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2\n", string(out))
}

func TestRunCaptureLargeOutput(t *testing.T) {
	ctx := context.Background()
	client := startAgent(t)

	// larger than a single stream chunk
	rc, err := client.RunCapture(ctx, "head -c 100000 /dev/zero | tr '\\0' 'x'")
	require.NoError(t, err)
	defer rc.Close()

	out, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Len(t, out, 100000)
}

func TestKillProcessToleratesNoMatch(t *testing.T) {
	ctx := context.Background()
	client := startAgent(t)

	require.NoError(t, client.KillProcess(ctx, "no-such-process-name-here", false))
	require.NoError(t, client.KillProcess(ctx, "no-such-process-name-here", true))
}

func TestClientRetryLimitIsConfigurable(t *testing.T) {
	// a client pointed at nothing fails fast with retries disabled
	port, err := internalnet.EphemeralTCPPort()
	require.NoError(t, err)

	client, err := NewClient(log, "node1.test", "127.0.0.1", port,
		WithCustomizeRetryableClient(func(r *retryablehttp.Client) {
			r.RetryMax = 0
		}))
	require.NoError(t, err)

	_, err = client.Run(context.Background(), cluster.RunRequest{Command: "true"})
	require.Error(t, err)
}
