package processing

import (
	"sync"
)

// ring keeps the most recent len(values) readings of one sensor.
type ring struct {
	values []float64
	start  int
	count  int
}

func (r *ring) push(v float64) {
	size := len(r.values)
	if r.count < size {
		r.values[(r.start+r.count)%size] = v
		r.count++
		return
	}
	r.values[r.start] = v
	r.start = (r.start + 1) % size
}

func (r *ring) appendTo(dst []float64) []float64 {
	size := len(r.values)
	for i := 0; i < r.count; i++ {
		dst = append(dst, r.values[(r.start+i)%size])
	}
	return dst
}

// SampleBuffer holds a fixed capacity history per sensor. Inserting into a
// full history evicts the oldest reading.
type SampleBuffer struct {
	rings    []ring
	capacity int
	mu       sync.RWMutex
}

func NewSampleBuffer(capacity, sensors int) (*SampleBuffer, error) {
	b := &SampleBuffer{}
	if err := b.Reset(capacity, sensors); err != nil {
		return nil, err
	}
	return b, nil
}

// Reset drops every reading and reallocates the buffer with the new shape.
func (b *SampleBuffer) Reset(capacity, sensors int) error {
	if capacity < 1 {
		return ErrInvalidCapacity
	}
	if sensors < 1 {
		return ErrInvalidSensorCount
	}

	rings := make([]ring, sensors)
	backing := make([]float64, capacity*sensors)
	for i := range rings {
		rings[i].values = backing[i*capacity : (i+1)*capacity : (i+1)*capacity]
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.rings = rings
	b.capacity = capacity
	return nil
}

// Insert appends value to the history of sensor. It reports false and keeps
// nothing when sensor is outside the configured range, which happens when a
// record races a reconfiguration.
func (b *SampleBuffer) Insert(sensor int, value float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sensor < 0 || sensor >= len(b.rings) {
		return false
	}
	b.rings[sensor].push(value)
	return true
}

// Snapshot returns a copy of the history of sensor, oldest first.
func (b *SampleBuffer) Snapshot(sensor int) []float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if sensor < 0 || sensor >= len(b.rings) {
		return nil
	}
	r := &b.rings[sensor]
	return r.appendTo(make([]float64, 0, r.count))
}

// SnapshotAll copies every history under a single lock so that all sensors
// reflect the same instant.
func (b *SampleBuffer) SnapshotAll() [][]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([][]float64, len(b.rings))
	for i := range b.rings {
		out[i] = b.rings[i].appendTo(make([]float64, 0, b.rings[i].count))
	}
	return out
}

func (b *SampleBuffer) Latest(sensor int) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if sensor < 0 || sensor >= len(b.rings) {
		return 0, false
	}
	r := &b.rings[sensor]
	if r.count == 0 {
		return 0, false
	}
	return r.values[(r.start+r.count-1)%len(r.values)], true
}

func (b *SampleBuffer) Len(sensor int) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if sensor < 0 || sensor >= len(b.rings) {
		return 0
	}
	return b.rings[sensor].count
}

func (b *SampleBuffer) Capacity() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.capacity
}

func (b *SampleBuffer) Sensors() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rings)
}
