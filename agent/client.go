package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	clusteriface "github.com/andrwng/ducktape/cluster"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Client coordinates a node through its agent. It implements the cluster
// Node interface.
type Client struct {
	Log        *zap.SugaredLogger
	HTTPClient *http.Client

	// hostname is the name other nodes reach this node by, which is generally
	// not the address the client dials the agent on.
	hostname string
	baseURL  string

	waitInterval             time.Duration
	customizeRetryableClient func(*retryablehttp.Client)
}

type ClientOption func(c *Client)

func WithClientLogger(l *zap.SugaredLogger) ClientOption {
	return func(c *Client) {
		c.Log = l.Named("agent_client")
	}
}

func WithClientWaitInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.waitInterval = d
	}
}

func WithCustomizeRetryableClient(f func(r *retryablehttp.Client)) ClientOption {
	return func(c *Client) {
		c.customizeRetryableClient = f
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

// NewClient builds a client for the agent at addr. hostname is the node's
// cluster-internal name, returned from Hostname and baked into service
// configuration.
func NewClient(log *zap.SugaredLogger, hostname, addr string, port int, opts ...ClientOption) (*Client, error) {
	c := &Client{
		Log:          log.Named("agent_client"),
		hostname:     hostname,
		baseURL:      fmt.Sprintf("http://%s:%d", addr, port),
		waitInterval: 100 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 10
	retryClient.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return 10 * time.Millisecond
	}
	retryClient.Logger = &logAdapter{SugaredLogger: c.Log}
	if c.customizeRetryableClient != nil {
		c.customizeRetryableClient(retryClient)
	}
	c.HTTPClient = retryClient.StandardClient()

	return c, nil
}

func (c *Client) Hostname() string { return c.hostname }

func (c *Client) Run(ctx context.Context, req clusteriface.RunRequest) (int, error) {
	b, err := json.Marshal(RunRequest{Command: req.Command})
	if err != nil {
		return -1, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run", bytes.NewReader(b))
	if err != nil {
		return -1, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Add("Content-Type", "application/json")

	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return -1, fmt.Errorf("sending run request: %w", err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return -1, fmt.Errorf("non-200 HTTP status code %d from run: %s", httpResp.StatusCode, readBody(httpResp.Body))
	}

	var resp RunResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return -1, fmt.Errorf("decoding run response: %w", err)
	}
	if req.Stdout != nil {
		io.WriteString(req.Stdout, resp.Stdout)
	}
	if req.Stderr != nil {
		io.WriteString(req.Stderr, resp.Stderr)
	}
	return resp.ExitCode, nil
}

func (c *Client) RunCapture(ctx context.Context, command string) (io.ReadCloser, error) {
	wsConn, _, err := websocket.Dial(ctx, c.baseURL+"/capture", &websocket.DialOptions{HTTPClient: c.HTTPClient})
	if err != nil {
		return nil, fmt.Errorf("dialing capture WebSocket: %w", err)
	}
	if err := wsjson.Write(ctx, wsConn, captureRequest{Command: command}); err != nil {
		wsConn.Close(websocket.StatusInternalError, "")
		return nil, fmt.Errorf("sending capture request: %w", err)
	}
	return &captureReader{ctx: ctx, conn: wsConn}, nil
}

func (c *Client) WriteFile(ctx context.Context, filePath string, contents io.Reader) error {
	u := c.baseURL + path.Join("/file", filePath)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, contents)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending file: %w", err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("non-200 HTTP status code %d when sending file: %s", httpResp.StatusCode, readBody(httpResp.Body))
	}
	return nil
}

func (c *Client) KillProcess(ctx context.Context, name string, graceful bool) error {
	b, err := json.Marshal(KillRequest{Name: name, Graceful: graceful})
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/kill", bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Add("Content-Type", "application/json")

	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending kill request: %w", err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("non-200 HTTP status code %d from kill: %s", httpResp.StatusCode, readBody(httpResp.Body))
	}
	return nil
}

func (c *Client) Close(ctx context.Context) error {
	// the node's lifetime belongs to the cluster backend
	return nil
}

// WaitForReady blocks until the agent answers health checks or the context
// is done.
func (c *Client) WaitForReady(ctx context.Context) error {
	ticker := time.NewTicker(c.waitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := c.healthz(ctx)
			if err == nil {
				c.Log.Debug("agent healthy, done waiting")
				return nil
			}
			c.Log.Debugf("agent health check error: %s", err)
		}
	}
}

func (c *Client) healthz(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status code %d", resp.StatusCode)
	}
	return nil
}

func readBody(r io.Reader) string {
	b, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("error reading body: %w", err).Error()
	}
	return string(b)
}

// captureReader turns the stream of capture messages back into a plain
// reader over the command's output.
type captureReader struct {
	ctx  context.Context
	conn *websocket.Conn
	buf  bytes.Buffer
	done bool
}

func (r *captureReader) Read(p []byte) (int, error) {
	for r.buf.Len() == 0 {
		if r.done {
			return 0, io.EOF
		}
		var msg captureMessage
		if err := wsjson.Read(r.ctx, r.conn, &msg); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				r.done = true
				return 0, io.EOF
			}
			return 0, err
		}
		if msg.Done {
			r.done = true
		}
		r.buf.Write(msg.Output)
	}
	return r.buf.Read(p)
}

func (r *captureReader) Close() error {
	return r.conn.Close(websocket.StatusNormalClosure, "")
}
