package producer

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const DEFAULT_STOP_GRACE = 2 * time.Second
const MAX_RECORD_SIZE = 1 << 20

// Channel runs at most one producer at a time and moves every line it writes
// into a Queue from a background goroutine.
type Channel struct {
	queue    *Queue
	launcher Launcher
	logger   *zap.Logger
	grace    time.Duration

	mu     sync.Mutex
	handle *handle
}

// handle is one live producer.
type handle struct {
	id   string
	name string
	proc Process

	stopping atomic.Bool

	// gate serializes pushes against shutdown; closed means no more pushes.
	gate   sync.Mutex
	closed bool

	transferDone chan struct{}
	procDone     chan struct{}
	exited       chan struct{}
	waitErr      error
	exitErr      error
}

func NewChannel(queue *Queue, launcher Launcher, grace time.Duration, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	if grace <= 0 {
		grace = DEFAULT_STOP_GRACE
	}
	return &Channel{
		queue:    queue,
		launcher: launcher,
		logger:   logger,
		grace:    grace,
	}
}

func (c *Channel) Queue() *Queue { return c.queue }

// Start launches the producer and returns once its output is being
// transferred. A producer that exited on its own but was never stopped is
// reclaimed first.
func (c *Channel) Start(name string, args []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h := c.handle; h != nil {
		select {
		case <-h.exited:
			c.shutdown(h)
			c.handle = nil
		default:
			return ErrAlreadyRunning
		}
	}

	proc, err := c.launcher.Launch(name, args)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLaunchFailure, name, err)
	}

	h := &handle{
		id:           uuid.NewString(),
		name:         name,
		proc:         proc,
		transferDone: make(chan struct{}),
		procDone:     make(chan struct{}),
		exited:       make(chan struct{}),
	}
	c.handle = h

	go c.transfer(h)
	go func() {
		h.waitErr = h.proc.Wait()
		close(h.procDone)
	}()
	go c.supervise(h)

	c.logger.Info("[producer] started", zap.String("session", h.id), zap.String("command", name), zap.Strings("args", args))
	return nil
}

// Stop terminates the producer, escalating to a kill after the grace period,
// and joins the transfer goroutine. No record is queued after Stop returns.
func (c *Channel) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := c.handle
	if h == nil {
		return ErrNotRunning
	}
	err := c.shutdown(h)
	c.handle = nil

	c.logger.Info("[producer] stopped", zap.String("session", h.id), zap.String("command", h.name))
	return err
}

// Running reports whether a producer is live, i.e. started and neither
// stopped nor exited.
func (c *Channel) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil {
		return false
	}
	select {
	case <-c.handle.exited:
		return false
	case <-c.handle.procDone:
		return false
	default:
		return true
	}
}

// Exited is closed when the current producer terminates without Stop.
func (c *Channel) Exited() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil {
		return nil
	}
	return c.handle.exited
}

// Err describes why the current producer exited, nil while it runs.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil {
		return nil
	}
	select {
	case <-c.handle.exited:
		return c.handle.exitErr
	default:
		return nil
	}
}

func (c *Channel) transfer(h *handle) {
	defer close(h.transferDone)

	scanner := bufio.NewScanner(h.proc.Output())
	scanner.Buffer(make([]byte, 0, 64*1024), MAX_RECORD_SIZE)
	for scanner.Scan() {
		if !h.push(c.queue, bytes.Clone(scanner.Bytes())) {
			return
		}
	}

	if err := scanner.Err(); err != nil && !h.stopping.Load() {
		c.logger.Warn("[producer] error reading producer output", zap.Error(err), zap.String("session", h.id))
	}
}

// supervise turns an exit that nobody asked for into the exited signal, after
// letting the transfer goroutine queue whatever output is left.
func (c *Channel) supervise(h *handle) {
	<-h.procDone
	if h.stopping.Load() {
		return
	}

	select {
	case <-h.transferDone:
	case <-time.After(c.grace):
		// a descendant is still holding the output open
		h.proc.Close()
		<-h.transferDone
	}
	if h.stopping.Load() {
		return
	}

	if h.waitErr != nil {
		h.exitErr = fmt.Errorf("%s exited: %w", h.name, h.waitErr)
	} else {
		h.exitErr = fmt.Errorf("%s exited", h.name)
	}
	c.logger.Error("[producer] producer exited unexpectedly", zap.Error(h.waitErr), zap.String("session", h.id), zap.String("command", h.name))
	close(h.exited)
}

func (c *Channel) shutdown(h *handle) error {
	h.stopping.Store(true)

	var errs error
	select {
	case <-h.procDone:
	default:
		if err := h.proc.Terminate(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			c.logger.Debug("[producer] terminate failed", zap.Error(err), zap.String("session", h.id))
		}

		timer := time.NewTimer(c.grace)
		select {
		case <-h.procDone:
		case <-timer.C:
			c.logger.Warn("[producer] producer ignored termination, killing it", zap.String("session", h.id), zap.Duration("grace", c.grace))
			if err := h.proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				errs = multierr.Append(errs, err)
			}
			<-h.procDone
		}
		timer.Stop()
	}

	select {
	case <-h.transferDone:
	case <-time.After(c.grace):
	}
	errs = multierr.Append(errs, h.proc.Close())
	<-h.transferDone

	h.gate.Lock()
	h.closed = true
	h.gate.Unlock()

	return errs
}

func (h *handle) push(queue *Queue, record []byte) bool {
	h.gate.Lock()
	defer h.gate.Unlock()

	if h.closed {
		return false
	}
	queue.Push(record)
	return true
}
