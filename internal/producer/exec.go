package producer

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapio"
)

// ExecLauncher runs producers as child processes. Their stdout is the record
// stream; every stderr line is logged at warn level.
type ExecLauncher struct {
	Logger *zap.Logger
	// WaitDelay bounds how long Wait keeps collecting stderr after the
	// child exits. Zero means DEFAULT_STOP_GRACE.
	WaitDelay time.Duration
}

func (l *ExecLauncher) Launch(name string, args []string) (Process, error) {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// An *os.File as Stdout lets Wait return without draining the pipe.
	stdout, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}

	stderr := &zapio.Writer{
		Log:   logger.With(zap.String("command", name)),
		Level: zap.WarnLevel,
	}

	cmd := exec.Command(name, args...)
	cmd.Stdout = w
	cmd.Stderr = stderr
	cmd.WaitDelay = l.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DEFAULT_STOP_GRACE
	}

	if err := cmd.Start(); err != nil {
		stdout.Close()
		w.Close()
		return nil, err
	}
	w.Close()

	return &execProcess{
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
	}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout *os.File
	stderr *zapio.Writer
}

func (p *execProcess) Output() io.Reader { return p.stdout }

func (p *execProcess) Terminate() error {
	err := p.cmd.Process.Signal(syscall.SIGTERM)
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		// no SIGTERM on this platform
		return p.cmd.Process.Kill()
	}
	return err
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *execProcess) Wait() error {
	err := p.cmd.Wait()
	p.stderr.Close()
	return err
}

func (p *execProcess) Close() error {
	err := p.stdout.Close()
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}
