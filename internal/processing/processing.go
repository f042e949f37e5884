package processing

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

const DEFAULT_NUM_SENSORS = 8
const DEFAULT_BUFFER_SIZE = 1

type State int

const (
	Idle State = iota
	Acquiring
)

func (s State) String() string {
	if s == Acquiring {
		return "acquiring"
	}
	return "idle"
}

// Producer is the subprocess side of acquisition. *producer.Channel
// implements it.
type Producer interface {
	Start(name string, args []string) error
	Stop() error
	Running() bool
	// Exited is closed when the current producer terminates without being
	// stopped. It is nil when nothing was started.
	Exited() <-chan struct{}
	Err() error
}

// RecordQueue is the consumer end of the producer queue.
type RecordQueue interface {
	TryPop() ([]byte, bool)
	Clear()
}

type Options struct {
	Command     string
	NumSensors  int
	BufferSize  int
	Integration bool
	Reduction   Reduction
	Delimiter   byte
	ColorMin    float64
	ColorMax    float64
}

type Stats struct {
	Drains    uint64
	Records   uint64
	Malformed uint64
	Dropped   uint64
}

// Controller owns all mutable acquisition state. Drains, projections and
// reconfigurations are serialized by one mutex; the producer only ever
// touches the queue.
type Controller struct {
	mu          sync.Mutex
	state       State
	command     string
	numSensors  int
	capacity    int
	integration bool
	buffer      *SampleBuffer
	topology    *SensorTopology

	parser    RecordParser
	projector *Projector
	producer  Producer
	queue     RecordQueue
	logger    *zap.Logger

	drains    atomic.Uint64
	records   atomic.Uint64
	malformed atomic.Uint64
	dropped   atomic.Uint64
}

func NewController(opts Options, producer Producer, queue RecordQueue, logger *zap.Logger) (*Controller, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.NumSensors == 0 {
		opts.NumSensors = DEFAULT_NUM_SENSORS
	}
	if opts.BufferSize == 0 {
		opts.BufferSize = DEFAULT_BUFFER_SIZE
	}

	buffer, err := NewSampleBuffer(opts.BufferSize, opts.NumSensors)
	if err != nil {
		return nil, err
	}

	return &Controller{
		state:       Idle,
		command:     opts.Command,
		numSensors:  opts.NumSensors,
		capacity:    opts.BufferSize,
		integration: opts.Integration,
		buffer:      buffer,
		parser:      NewRecordParser(opts.Delimiter),
		projector:   NewProjector(opts.Reduction, NewColorScale(opts.ColorMin, opts.ColorMax)),
		producer:    producer,
		queue:       queue,
		logger:      logger,
	}, nil
}

// Start clears the buffers and launches the producer command with the
// current sensor count appended as the last argument.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Acquiring {
		return ErrAlreadyRunning
	}

	c.resetLocked()
	c.queue.Clear()

	fields := strings.Fields(c.command)
	if len(fields) == 0 {
		return ErrNoCommand
	}
	args := append(fields[1:], strconv.Itoa(c.numSensors))
	if err := c.producer.Start(fields[0], args); err != nil {
		c.logger.Error("[controller] could not start producer", zap.Error(err), zap.String("command", c.command))
		return err
	}

	c.state = Acquiring
	c.logger.Info("[controller] acquisition started",
		zap.String("command", c.command),
		zap.Int("numSensors", c.numSensors),
		zap.Int("bufferSize", c.capacity),
		zap.Bool("integration", c.integration),
	)
	return nil
}

// Stop terminates the producer and waits for it. Once Stop returns no record
// from that producer reaches the buffers.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Idle && !c.producer.Running() && c.producer.Exited() == nil {
		return ErrNotAcquiring
	}

	err := c.producer.Stop()
	c.state = Idle
	c.queue.Clear()
	c.resetLocked()

	if err != nil {
		c.logger.Warn("[controller] producer did not stop cleanly", zap.Error(err))
	} else {
		c.logger.Info("[controller] acquisition stopped")
	}
	return err
}

// DrainAndParse pops records until the queue is empty at that instant and
// stores their samples. It returns the values of the last good record; an
// empty result means there is nothing new to render. When the producer has
// exited on its own, the final batch is returned together with
// ErrProducerExited and the controller drops back to Idle.
func (c *Controller) DrainAndParse() ([]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Acquiring {
		return nil, ErrNotAcquiring
	}
	c.drains.Add(1)

	var values []float64
	for {
		record, ok := c.queue.TryPop()
		if !ok {
			break
		}
		c.records.Add(1)

		samples, err := c.parser.Parse(record, c.numSensors)
		if err != nil {
			c.malformed.Add(1)
			c.logger.Warn("[controller] dropping malformed record",
				zap.Error(err),
				zap.Int("numSensors", c.numSensors),
				zap.ByteString("rawBytes", record),
			)
			continue
		}
		if len(samples) == 0 {
			continue
		}

		batch := make([]float64, 0, len(samples))
		for _, s := range samples {
			if c.topology.Len() > 0 && !c.topology.Has(s.Sensor) {
				c.dropped.Add(1)
				c.logger.Debug("[controller] sample for sensor outside topology", zap.Int("sensor", s.Sensor))
				continue
			}
			if !c.buffer.Insert(s.Sensor, s.Value) {
				c.dropped.Add(1)
				c.logger.Debug("[controller] sample outside buffer range", zap.Int("sensor", s.Sensor))
				continue
			}
			batch = append(batch, s.Value)
		}
		if len(batch) > 0 {
			values = batch
		}
	}

	select {
	case <-c.producer.Exited():
		c.state = Idle
		err := c.producer.Err()
		c.logger.Error("[controller] producer exited, acquisition halted", zap.Error(err))
		return values, fmt.Errorf("%w: %v", ErrProducerExited, err)
	default:
	}

	return values, nil
}

// SetNumSensors changes the sensor count and empties the buffers. A producer
// that is already running keeps the count it was launched with, so its
// records are rejected until acquisition is restarted. While a topology is
// loaded the count must match it; otherwise ErrTopologyMismatch is returned
// and nothing changes.
func (c *Controller) SetNumSensors(n int) error {
	if n < 1 {
		return ErrInvalidSensorCount
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.topology.Len() > 0 && c.topology.Len() != n {
		c.logger.Warn("[controller] rejected sensor count, topology describes a different number of sensors",
			zap.Int("numSensors", n),
			zap.Int("topologySensors", c.topology.Len()),
		)
		return fmt.Errorf("%w: topology has %d sensors, asked for %d", ErrTopologyMismatch, c.topology.Len(), n)
	}

	c.numSensors = n
	c.resetLocked()

	if c.state == Acquiring {
		c.logger.Warn("[controller] sensor count changed during acquisition, restart the producer to apply it", zap.Int("numSensors", n))
	} else {
		c.logger.Info("[controller] sensor count changed", zap.Int("numSensors", n))
	}
	return nil
}

// ResetBuffers empties the buffers and resizes every sensor's window to
// capacity.
func (c *Controller) ResetBuffers(capacity int) error {
	if capacity < 1 {
		return ErrInvalidCapacity
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.capacity = capacity
	c.resetLocked()
	c.logger.Debug("[controller] buffers reset", zap.Int("bufferSize", capacity))
	return nil
}

// SetIntegrationMode switches between integrating the whole window and
// showing the newest sample. Aggregation restarts from empty buffers.
func (c *Controller) SetIntegrationMode(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.integration = on
	c.resetLocked()
	c.logger.Info("[controller] integration mode changed", zap.Bool("integration", on))
}

// LoadTopology replaces the sensor layout. On error the previous layout stays
// in place. A layout with a different number of sensors also changes the
// sensor count.
func (c *Controller) LoadTopology(xs, ys, indices []int) error {
	topology, err := NewSensorTopology(xs, ys, indices)
	if err != nil {
		c.logger.Warn("[controller] rejected topology", zap.Error(err))
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if d := topology.Duplicates(); d > 0 {
		c.logger.Warn("[controller] topology repeats sensor indices, later rows win", zap.Int("duplicates", d))
	}

	c.topology = topology
	if topology.Len() != c.numSensors {
		c.logger.Info("[controller] sensor count follows topology",
			zap.Int("previous", c.numSensors),
			zap.Int("numSensors", topology.Len()),
		)
		c.numSensors = topology.Len()
	}
	c.resetLocked()
	return nil
}

func (c *Controller) ProjectMap() *Grid {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projector.ProjectMap(c.buffer, c.topology, c.integration)
}

func (c *Controller) ProjectScatter() Scatter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projector.ProjectScatter(c.buffer, c.topology, c.integration)
}

func (c *Controller) Topology() *SensorTopology {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topology
}

// Snapshot returns the buffered history of one sensor, oldest first.
func (c *Controller) Snapshot(sensor int) []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer.Snapshot(sensor)
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) NumSensors() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.numSensors
}

func (c *Controller) BufferSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}

func (c *Controller) Integration() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.integration
}

func (c *Controller) SetCommand(command string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.command = command
}

func (c *Controller) Colors() *ColorScale { return c.projector.Colors() }

func (c *Controller) Stats() Stats {
	return Stats{
		Drains:    c.drains.Load(),
		Records:   c.records.Load(),
		Malformed: c.malformed.Load(),
		Dropped:   c.dropped.Load(),
	}
}

func (c *Controller) resetLocked() {
	// both values were validated when they were set
	_ = c.buffer.Reset(c.capacity, c.numSensors)
}
