// Package agent implements the per-node execution agent and its client. The
// agent is a small HTTP server that runs on every remote node; the client
// implements the cluster Node interface against it, which is how the docker
// backend coordinates its nodes.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Agent is the HTTP agent that runs on each node. The agent only listens on
// the cluster's private test network, so there is no transport security.
type Agent struct {
	log        *zap.SugaredLogger
	listenAddr string
	httpServer *http.Server
}

type Option func(a *Agent)

func WithListenAddr(s string) Option {
	return func(a *Agent) {
		a.listenAddr = s
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) {
		a.log = l.Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(a *Agent) {
		a.log = a.log.WithOptions(zap.IncreaseLevel(l))
	}
}

func New(opts ...Option) (*Agent, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	a := &Agent{
		log:        logger.Named("agent").Sugar(),
		listenAddr: "0.0.0.0:8080",
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Run runs the agent and returns once it has stopped.
func (a *Agent) Run() error {
	listener, err := net.Listen("tcp", a.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}

	router := httprouter.New()
	router.GET("/healthz", a.healthz)
	router.POST("/run", a.run)
	router.POST("/kill", a.kill)
	router.POST("/file/*path", a.postFile)
	router.GET("/capture", a.capture)

	server := http.Server{Handler: router}
	a.httpServer = &server

	err = server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *Agent) Stop() error {
	return a.httpServer.Close()
}

func (a *Agent) healthz(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	w.WriteHeader(http.StatusOK)
}

func (a *Agent) run(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Command == "" {
		http.Error(w, "request contained no command", http.StatusBadRequest)
		return
	}
	log := a.log.With("req", uuid.NewString())
	log.Debugw("running command", "command", req.Command)

	cmd := exec.Command("sh", "-c", req.Command)
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// If the request is aborted, kill the process.
	// In the normal case this is a no-op, the process is already gone.
	done := make(chan struct{})
	go func() {
		select {
		case <-r.Context().Done():
			cmd.Process.Kill()
		case <-done:
		}
	}()

	cmd.Wait()
	close(done)

	resp := RunResponse{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	log.Debugw("command exited", "code", resp.ExitCode)
	w.Header().Add("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (a *Agent) kill(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	var req KillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "request contained no process name", http.StatusBadRequest)
		return
	}

	sig := "-9"
	if req.Graceful {
		sig = "-15"
	}
	cmd := exec.Command("pkill", sig, "-f", "--", req.Name)
	err := cmd.Run()
	if err != nil {
		// exit code 1 means no processes matched
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *Agent) postFile(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	path := params.ByName("path")

	if err := os.MkdirAll(filepath.Dir(path), 0777); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	f, err := os.Create(path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	if _, err := f.ReadFrom(r.Body); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// capture streams a command's combined output over a WebSocket as it is
// produced, so the client can consume it lazily.
func (a *Agent) capture(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		a.log.Debugf("capture WebSocket accept error: %s", err)
		return
	}

	ctx := r.Context()

	var req captureRequest
	if err := wsjson.Read(ctx, wsConn, &req); err != nil {
		a.log.Debugf("reading capture request: %s", err)
		wsConn.Close(websocket.StatusInternalError, "reading capture request")
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		wsConn.Close(websocket.StatusUnsupportedData, "empty command")
		return
	}

	out := &wsChunkWriter{ctx: ctx, conn: wsConn}
	cmd := exec.Command("sh", "-c", req.Command)
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		wsConn.Close(websocket.StatusInternalError, err.Error())
		return
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cmd.Process.Kill()
		case <-done:
		}
	}()

	cmd.Wait()
	close(done)

	final := captureMessage{Done: true, ExitCode: cmd.ProcessState.ExitCode()}
	if err := wsjson.Write(ctx, wsConn, final); err != nil {
		a.log.Debugf("sending capture exit message: %s", err)
	}
	wsConn.Close(websocket.StatusNormalClosure, "")
}

// wsChunkWriter sends each write as one output chunk message.
type wsChunkWriter struct {
	ctx  context.Context
	conn *websocket.Conn
}

func (w *wsChunkWriter) Write(b []byte) (int, error) {
	// chunk conservatively to stay under the connection's message size limit
	const chunk = 16 * 1024
	total := len(b)
	for len(b) > 0 {
		n := len(b)
		if n > chunk {
			n = chunk
		}
		if err := wsjson.Write(w.ctx, w.conn, captureMessage{Output: b[:n]}); err != nil {
			return total - len(b), err
		}
		b = b[n:]
	}
	return total, nil
}
