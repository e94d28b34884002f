package agent

// RunRequest asks the agent to run a shell command and wait for it.
type RunRequest struct {
	Command string
}

// RunResponse carries the outcome of a completed command.
type RunResponse struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// KillRequest asks the agent to kill processes matching Name. Graceful
// selects SIGTERM over SIGKILL. Matching nothing is not an error.
type KillRequest struct {
	Name     string
	Graceful bool
}

// captureRequest is the first message on a capture WebSocket; it names the
// command whose combined output should be streamed back.
type captureRequest struct {
	Command string
}

// captureMessage is a streamed chunk of command output. The final message of
// the stream has Done set and carries the exit code.
type captureMessage struct {
	Output []byte

	Done     bool
	ExitCode int
}
