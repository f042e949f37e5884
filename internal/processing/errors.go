package processing

import (
	"errors"

	"sleepywoodpecker/rtgraph/internal/producer"
)

var (
	// ErrMalformedRecord is returned when a record does not decode into one
	// numeric field per configured sensor.
	ErrMalformedRecord = errors.New("processing: malformed record")

	ErrUnknownSensor    = errors.New("processing: unknown sensor")
	ErrTopologyMismatch = errors.New("processing: topology mismatch")

	ErrInvalidSensorCount = errors.New("processing: sensor count must be positive")
	ErrInvalidCapacity    = errors.New("processing: buffer capacity must be positive")

	// ErrNotAcquiring is returned by drains and stops issued while the
	// controller is idle.
	ErrNotAcquiring = errors.New("processing: not acquiring")

	// ErrProducerExited reports that the producer went away on its own. The
	// controller is idle afterwards and must be started again.
	ErrProducerExited = errors.New("processing: producer exited")

	ErrNoCommand = errors.New("processing: no producer command configured")

	ErrAlreadyRunning = producer.ErrAlreadyRunning
)
