package processing

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
)

const DEFAULT_DELIMITER = ','

// Sample is one parsed reading. The arrival order in the buffer is its only
// time marker.
type Sample struct {
	Sensor int
	Value  float64
}

// RecordParser turns one line of producer output into samples. It keeps no
// state between records, so a garbled line can simply be thrown away.
type RecordParser struct {
	Delimiter byte
}

func NewRecordParser(delimiter byte) RecordParser {
	if delimiter == 0 {
		delimiter = DEFAULT_DELIMITER
	}
	return RecordParser{Delimiter: delimiter}
}

// Parse decodes record into exactly numSensors samples, sample i belonging to
// sensor i. A blank record yields no samples and no error.
func (p RecordParser) Parse(record []byte, numSensors int) ([]Sample, error) {
	line := bytes.TrimSpace(record)
	if len(line) == 0 {
		return nil, nil
	}

	var fields [][]byte
	if p.Delimiter == ' ' || p.Delimiter == '\t' {
		fields = bytes.Fields(line)
	} else {
		fields = bytes.Split(line, []byte{p.Delimiter})
	}

	if len(fields) != numSensors {
		return nil, fmt.Errorf("%w: got %d fields, want %d", ErrMalformedRecord, len(fields), numSensors)
	}

	samples := make([]Sample, len(fields))
	for i, field := range fields {
		value, err := strconv.ParseFloat(string(bytes.TrimSpace(field)), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: field %d: %v", ErrMalformedRecord, i, err)
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, fmt.Errorf("%w: field %d is not finite", ErrMalformedRecord, i)
		}
		samples[i] = Sample{Sensor: i, Value: value}
	}

	return samples, nil
}
