package processing

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"sleepywoodpecker/rtgraph/internal/producer"
)

// fakeProducer records start requests and lets tests simulate an exit.
type fakeProducer struct {
	mu       sync.Mutex
	running  bool
	exited   chan struct{}
	exitErr  error
	startErr error
	starts   [][]string
	stops    int
}

func (f *fakeProducer) Start(name string, args []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	if f.running {
		return producer.ErrAlreadyRunning
	}
	f.running = true
	f.exited = make(chan struct{})
	f.exitErr = nil
	f.starts = append(f.starts, append([]string{name}, args...))
	return nil
}

func (f *fakeProducer) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exited == nil {
		return producer.ErrNotRunning
	}
	f.running = false
	f.exited = nil
	f.stops++
	return nil
}

func (f *fakeProducer) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeProducer) Exited() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exited
}

func (f *fakeProducer) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exitErr
}

func (f *fakeProducer) exit(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.exitErr = err
	close(f.exited)
}

func newTestController(t *testing.T, opts Options) (*Controller, *fakeProducer, *producer.Queue) {
	t.Helper()
	if opts.Command == "" {
		opts.Command = "producer"
	}
	fp := &fakeProducer{}
	queue := producer.NewQueue()
	ctrl, err := NewController(opts, fp, queue, zaptest.NewLogger(t))
	require.NoError(t, err)
	return ctrl, fp, queue
}

func pushLines(q *producer.Queue, lines ...string) {
	for _, l := range lines {
		q.Push([]byte(l))
	}
}

func TestControllerStartPassesSensorCount(t *testing.T) {
	ctrl, fp, _ := newTestController(t, Options{Command: "python3 sim.py --fast", NumSensors: 5})

	require.NoError(t, ctrl.Start())
	assert.Equal(t, Acquiring, ctrl.State())
	assert.Equal(t, [][]string{{"python3", "sim.py", "--fast", "5"}}, fp.starts)

	assert.ErrorIs(t, ctrl.Start(), ErrAlreadyRunning)
	assert.Len(t, fp.starts, 1)

	require.NoError(t, ctrl.Stop())
	assert.Equal(t, Idle, ctrl.State())
	assert.ErrorIs(t, ctrl.Stop(), ErrNotAcquiring)
}

func TestControllerStartFailureStaysIdle(t *testing.T) {
	ctrl, fp, _ := newTestController(t, Options{})
	fp.startErr = errors.Join(producer.ErrLaunchFailure, errors.New("no such file"))

	err := ctrl.Start()
	assert.ErrorIs(t, err, producer.ErrLaunchFailure)
	assert.Equal(t, Idle, ctrl.State())

	_, err = ctrl.DrainAndParse()
	assert.ErrorIs(t, err, ErrNotAcquiring)
}

func TestControllerStartWithoutCommand(t *testing.T) {
	fp := &fakeProducer{}
	ctrl, err := NewController(Options{}, fp, producer.NewQueue(), nil)
	require.NoError(t, err)

	assert.ErrorIs(t, ctrl.Start(), ErrNoCommand)
	assert.Empty(t, fp.starts)
}

func TestControllerScenarioThreeSensors(t *testing.T) {
	for _, integration := range []bool{false, true} {
		ctrl, _, queue := newTestController(t, Options{NumSensors: 3, BufferSize: 1, Integration: integration})
		require.NoError(t, ctrl.LoadTopology([]int{0, 1, 0}, []int{0, 0, 1}, []int{0, 1, 2}))
		require.NoError(t, ctrl.Start())

		pushLines(queue, "10,20,30")
		values, err := ctrl.DrainAndParse()
		require.NoError(t, err)
		assert.Equal(t, []float64{10, 20, 30}, values)

		s := ctrl.ProjectScatter()
		assert.Equal(t, []float64{10, 20, 30}, s.Intensity, "integration=%v", integration)

		grid := ctrl.ProjectMap()
		assert.Equal(t, 10.0, grid.At(0, 0))
		assert.Equal(t, 20.0, grid.At(1, 0))
		assert.Equal(t, 30.0, grid.At(0, 1))
		assert.Zero(t, grid.At(1, 1))
	}
}

func TestControllerIntegrationMeanAndSensorCountReset(t *testing.T) {
	ctrl, _, queue := newTestController(t, Options{NumSensors: 1, BufferSize: 2, Integration: true})
	require.NoError(t, ctrl.LoadTopology([]int{0}, []int{0}, []int{0}))
	require.NoError(t, ctrl.Start())

	pushLines(queue, "5")
	_, err := ctrl.DrainAndParse()
	require.NoError(t, err)
	pushLines(queue, "7")
	_, err = ctrl.DrainAndParse()
	require.NoError(t, err)

	assert.Equal(t, []float64{6}, ctrl.ProjectScatter().Intensity)

	require.NoError(t, ctrl.SetNumSensors(1))
	assert.Empty(t, ctrl.Snapshot(0))
	assert.Equal(t, []float64{0}, ctrl.ProjectScatter().Intensity)

	pushLines(queue, "9")
	_, err = ctrl.DrainAndParse()
	require.NoError(t, err)
	assert.Equal(t, []float64{9}, ctrl.ProjectScatter().Intensity)
}

func TestControllerDrainSkipsMalformed(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	fp := &fakeProducer{}
	queue := producer.NewQueue()
	ctrl, err := NewController(Options{Command: "p", NumSensors: 2, BufferSize: 4}, fp, queue, zap.New(core))
	require.NoError(t, err)
	require.NoError(t, ctrl.Start())

	pushLines(queue, "1,2", "garbage", "3", "", "4,5", "x,y")
	values, err := ctrl.DrainAndParse()
	require.NoError(t, err)

	assert.Equal(t, []float64{4, 5}, values, "last good record")
	assert.Equal(t, []float64{1, 4}, ctrl.Snapshot(0))
	assert.Equal(t, []float64{2, 5}, ctrl.Snapshot(1))
	assert.Zero(t, queue.Len())

	stats := ctrl.Stats()
	assert.EqualValues(t, 6, stats.Records)
	assert.EqualValues(t, 3, stats.Malformed)
	assert.Equal(t, 3, logs.FilterMessage("[controller] dropping malformed record").Len())
}

func TestControllerEmptyDrain(t *testing.T) {
	ctrl, _, _ := newTestController(t, Options{})
	require.NoError(t, ctrl.Start())

	values, err := ctrl.DrainAndParse()
	assert.NoError(t, err)
	assert.Empty(t, values)
}

func TestControllerProducerExit(t *testing.T) {
	ctrl, fp, queue := newTestController(t, Options{NumSensors: 1})
	require.NoError(t, ctrl.Start())

	pushLines(queue, "1", "2")
	fp.exit(errors.New("exit status 3"))

	values, err := ctrl.DrainAndParse()
	assert.ErrorIs(t, err, ErrProducerExited)
	assert.ErrorContains(t, err, "exit status 3")
	assert.Equal(t, []float64{2}, values, "output queued before the exit is kept")
	assert.Equal(t, Idle, ctrl.State())

	_, err = ctrl.DrainAndParse()
	assert.ErrorIs(t, err, ErrNotAcquiring)

	require.NoError(t, ctrl.Stop(), "stop reclaims the exited producer")
	assert.Equal(t, 1, fp.stops)

	require.NoError(t, ctrl.Start())
	assert.Equal(t, Acquiring, ctrl.State())
}

func TestControllerResetBuffersIdempotent(t *testing.T) {
	ctrl, _, queue := newTestController(t, Options{NumSensors: 2, BufferSize: 3})
	require.NoError(t, ctrl.Start())
	pushLines(queue, "1,2", "3,4")
	_, err := ctrl.DrainAndParse()
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, ctrl.ResetBuffers(5))
		assert.Empty(t, ctrl.Snapshot(0))
		assert.Empty(t, ctrl.Snapshot(1))
		assert.Equal(t, 5, ctrl.BufferSize())
	}

	assert.ErrorIs(t, ctrl.ResetBuffers(0), ErrInvalidCapacity)
	assert.Equal(t, 5, ctrl.BufferSize())
}

func TestControllerSetNumSensorsRejectsRecordsOfOldShape(t *testing.T) {
	ctrl, _, queue := newTestController(t, Options{NumSensors: 2})
	require.NoError(t, ctrl.Start())

	assert.ErrorIs(t, ctrl.SetNumSensors(0), ErrInvalidSensorCount)
	require.NoError(t, ctrl.SetNumSensors(3))
	assert.Equal(t, 3, ctrl.NumSensors())

	pushLines(queue, "1,2", "1,2,3")
	values, err := ctrl.DrainAndParse()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, values)
	assert.EqualValues(t, 1, ctrl.Stats().Malformed)
}

func TestControllerSetIntegrationModeResets(t *testing.T) {
	ctrl, _, queue := newTestController(t, Options{NumSensors: 1, BufferSize: 3})
	require.NoError(t, ctrl.Start())
	pushLines(queue, "1", "2")
	_, err := ctrl.DrainAndParse()
	require.NoError(t, err)

	ctrl.SetIntegrationMode(true)
	assert.True(t, ctrl.Integration())
	assert.Empty(t, ctrl.Snapshot(0))
	assert.Equal(t, 3, ctrl.BufferSize(), "capacity is unchanged")
}

func TestControllerLoadTopologyFailureKeepsPrevious(t *testing.T) {
	ctrl, _, _ := newTestController(t, Options{NumSensors: 3})
	require.NoError(t, ctrl.LoadTopology([]int{0, 1, 0}, []int{0, 0, 1}, []int{0, 1, 2}))
	before := ctrl.Topology()

	err := ctrl.LoadTopology([]int{5, 6}, []int{5}, []int{0, 1})
	assert.ErrorIs(t, err, ErrTopologyMismatch)

	after := ctrl.Topology()
	assert.Same(t, before, after)
	for sensor, want := range []Coordinate{{0, 0}, {1, 0}, {0, 1}} {
		got, err := after.CoordinateOf(sensor)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 3, ctrl.NumSensors())
}

func TestControllerOversizedTopologyKeepsPrevious(t *testing.T) {
	ctrl, _, _ := newTestController(t, Options{NumSensors: 3})
	require.NoError(t, ctrl.LoadTopology([]int{0, 1, 0}, []int{0, 0, 1}, []int{0, 1, 2}))
	before := ctrl.Topology()

	err := ctrl.LoadTopology([]int{0, 1 << 40}, []int{0, 1 << 40}, []int{0, 1})
	assert.ErrorIs(t, err, ErrTopologyMismatch)
	assert.Same(t, before, ctrl.Topology())
	assert.Equal(t, 3, ctrl.NumSensors())

	c, r := ctrl.ProjectMap().Dims()
	assert.Equal(t, [2]int{2, 2}, [2]int{c, r})
}

func TestControllerLoadTopologySetsSensorCount(t *testing.T) {
	ctrl, fp, _ := newTestController(t, Options{NumSensors: 8})
	require.NoError(t, ctrl.LoadTopology([]int{0, 1}, []int{0, 0}, []int{1, 0}))
	assert.Equal(t, 2, ctrl.NumSensors())

	require.NoError(t, ctrl.Start())
	assert.Equal(t, "2", fp.starts[0][len(fp.starts[0])-1])
}

func TestControllerSetNumSensorsMustMatchTopology(t *testing.T) {
	ctrl, _, queue := newTestController(t, Options{NumSensors: 3, BufferSize: 2})
	require.NoError(t, ctrl.LoadTopology([]int{0, 1, 0}, []int{0, 0, 1}, []int{0, 1, 2}))
	require.NoError(t, ctrl.Start())
	pushLines(queue, "1,2,3")
	_, err := ctrl.DrainAndParse()
	require.NoError(t, err)

	err = ctrl.SetNumSensors(5)
	assert.ErrorIs(t, err, ErrTopologyMismatch)
	assert.Equal(t, 3, ctrl.NumSensors())
	assert.Equal(t, 3, ctrl.Topology().Len())
	assert.Equal(t, []float64{1}, ctrl.Snapshot(0), "rejected change keeps the buffers")

	require.NoError(t, ctrl.SetNumSensors(3))
	assert.Empty(t, ctrl.Snapshot(0))
}

func TestControllerDropsSensorsOutsideTopology(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	fp := &fakeProducer{}
	queue := producer.NewQueue()
	ctrl, err := NewController(Options{Command: "p", NumSensors: 2}, fp, queue, zap.New(core))
	require.NoError(t, err)
	require.NoError(t, ctrl.LoadTopology([]int{0, 1}, []int{0, 0}, []int{0, 1}))

	// count and layout can only disagree if something bypasses SetNumSensors
	ctrl.mu.Lock()
	ctrl.numSensors = 3
	ctrl.resetLocked()
	ctrl.mu.Unlock()
	require.NoError(t, ctrl.Start())

	pushLines(queue, "1,2,3")
	values, err := ctrl.DrainAndParse()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, values)
	assert.Empty(t, ctrl.Snapshot(2))
	assert.EqualValues(t, 1, ctrl.Stats().Dropped)
	assert.Len(t, ctrl.ProjectScatter().Intensity, 2)

	dropped := logs.FilterMessage("[controller] sample for sensor outside topology").All()
	require.Len(t, dropped, 1)
	assert.EqualValues(t, 2, dropped[0].ContextMap()["sensor"])
}

func TestControllerStopClearsState(t *testing.T) {
	ctrl, _, queue := newTestController(t, Options{NumSensors: 1, BufferSize: 2})
	require.NoError(t, ctrl.Start())
	pushLines(queue, "1")
	_, err := ctrl.DrainAndParse()
	require.NoError(t, err)
	pushLines(queue, "2")

	require.NoError(t, ctrl.Stop())
	assert.Empty(t, ctrl.Snapshot(0))
	assert.Zero(t, queue.Len())
}
