package producer

import (
	"errors"
	"io"
)

var (
	ErrAlreadyRunning = errors.New("producer: already running")
	ErrNotRunning     = errors.New("producer: not running")

	// ErrLaunchFailure wraps whatever prevented the producer from starting.
	ErrLaunchFailure = errors.New("producer: launch failure")
)

// Process is a running record source.
type Process interface {
	// Output is the stream of newline terminated records.
	Output() io.Reader
	// Terminate asks the process to exit.
	Terminate() error
	// Kill ends the process without cooperation.
	Kill() error
	// Wait blocks until the process is gone. It is called exactly once.
	Wait() error
	// Close releases the output stream, unblocking any pending read.
	Close() error
}

// Launcher starts a Process from a command line.
type Launcher interface {
	Launch(name string, args []string) (Process, error)
}
