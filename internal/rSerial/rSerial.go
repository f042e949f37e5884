// r in rserial stands for "robust"
package rserial

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"sleepywoodpecker/rtgraph/internal/producer"
)

const DEFAULT_BAUDRATE = 460800
const READ_TIMEOUT = 5 * time.Millisecond

// MAX_SYNC_BYTES is how much garbage is tolerated before the first line
// terminator shows up.
const MAX_SYNC_BYTES = 64 * 1024

// port is the part of serial.Port used here.
type port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

type OutOfSyncError struct {
	ByteSequence []byte
}

func (e *OutOfSyncError) Error() string {
	return fmt.Sprintf("[rserial] no stop sequence found in %d bytes: %q...", MAX_SYNC_BYTES, e.ByteSequence)
}

// Launcher opens a serial device as a record producer. The launch name is the
// device path; the arguments are sent to the device as one line.
type Launcher struct {
	Baudrate int
	Logger   *zap.Logger
	open     func(name string, mode *serial.Mode) (port, error)
}

func NewLauncher(baudrate int, logger *zap.Logger) *Launcher {
	if baudrate <= 0 {
		baudrate = DEFAULT_BAUDRATE
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{
		Baudrate: baudrate,
		Logger:   logger,
		open:     openSerial,
	}
}

func openSerial(name string, mode *serial.Mode) (port, error) {
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (l *Launcher) Launch(portName string, args []string) (producer.Process, error) {
	p, err := l.open(portName, &serial.Mode{BaudRate: l.Baudrate})
	if err != nil {
		l.Logger.Error("[rserial] error opening serial port", zap.Error(err), zap.String("portName", portName))
		return nil, err
	}

	r := &rserial{
		port:         p,
		logger:       l.Logger,
		portName:     portName,
		stopSequence: '\n',
		done:         make(chan struct{}),
	}
	if err := r.initialize(args); err != nil {
		return nil, multierr.Append(err, p.Close())
	}
	return r, nil
}

// rserial streams lines from a serial device. Reads start at the first byte
// after a line terminator, so a partially received first line is dropped.
type rserial struct {
	port
	logger       *zap.Logger
	portName     string
	stopSequence byte

	synced    bool
	discarded int

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

func (r *rserial) initialize(args []string) error {
	if err := r.SetReadTimeout(READ_TIMEOUT); err != nil {
		return err
	}
	if err := r.ResetInputBuffer(); err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}

	command := strings.Join(args, " ") + string(r.stopSequence)
	n, err := r.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return fmt.Errorf("[rserial] short write of configuration line: %d of %d bytes", n, len(command))
	}
	return nil
}

func (r *rserial) Output() io.Reader { return r }

// Read retries through read timeouts and reports io.EOF once the port has
// been closed. Any other failure closes the port, which ends the process.
func (r *rserial) Read(p []byte) (int, error) {
	n, err := r.read(p)
	if err != nil && err != io.EOF {
		r.logger.Warn("[rserial] error while reading from serial port", zap.Error(err), zap.String("portName", r.portName))
		r.Close()
	}
	return n, err
}

func (r *rserial) read(p []byte) (int, error) {
	for {
		if r.closed.Load() {
			return 0, io.EOF
		}

		n, err := r.port.Read(p)
		if err != nil {
			if r.closed.Load() {
				return 0, io.EOF
			}
			return n, err
		}
		if n == 0 {
			continue
		}

		if !r.synced {
			i := bytes.IndexByte(p[:n], r.stopSequence)
			if i < 0 {
				r.discarded += n
				if r.discarded > MAX_SYNC_BYTES {
					seq := make([]byte, min(n, 32))
					copy(seq, p)
					return 0, &OutOfSyncError{ByteSequence: seq}
				}
				continue
			}
			r.synced = true
			r.logger.Debug("[rserial] synced to line boundary", zap.String("portName", r.portName), zap.Int("discarded", r.discarded+i+1))
			n = copy(p, p[i+1:n])
			if n == 0 {
				continue
			}
		}
		return n, nil
	}
}

func (r *rserial) Terminate() error { return r.Close() }
func (r *rserial) Kill() error      { return r.Close() }

func (r *rserial) Wait() error {
	<-r.done
	return nil
}

func (r *rserial) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.closeErr = r.port.Close()
		close(r.done)
		r.logger.Info("[rserial] closed serial port", zap.String("portName", r.portName))
	})
	return r.closeErr
}
