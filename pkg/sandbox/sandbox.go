package sandbox

import "context"

// Result represents the output of a sandbox execution.
type Result struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exit_code"`
	// TimedOut is set when the run was cut short by the execution deadline.
	TimedOut bool `json:"timed_out,omitempty"`
}

// Runner defines the interface for executing code in per-session sandboxes.
type Runner interface {
	// RunPython executes a python program within the sandbox for the given session.
	// The sandbox is lazily created on first use.
	RunPython(ctx context.Context, sessionID string, code string) (*Result, error)

	// Stop terminates the sandbox for the given session.
	Stop(ctx context.Context, sessionID string) error

	// Close releases any resources held by the runner (e.g. docker client).
	Close() error
}
