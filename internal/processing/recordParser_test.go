package processing

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecord(t *testing.T) {
	parser := NewRecordParser(0)

	samples, err := parser.Parse([]byte("10,20.5, -3e2\r\n"), 3)
	require.NoError(t, err)

	want := []Sample{{Sensor: 0, Value: 10}, {Sensor: 1, Value: 20.5}, {Sensor: 2, Value: -300}}
	if diff := cmp.Diff(want, samples); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRecordFieldCountMatchesSensors(t *testing.T) {
	parser := NewRecordParser(',')
	for n := 1; n <= 16; n++ {
		fields := make([]byte, 0, 4*n)
		for i := 0; i < n; i++ {
			if i > 0 {
				fields = append(fields, ',')
			}
			fields = append(fields, '1', '.', '5')
		}
		samples, err := parser.Parse(fields, n)
		require.NoError(t, err)
		assert.Len(t, samples, n)
	}
}

func TestParseRecordMalformed(t *testing.T) {
	parser := NewRecordParser(',')

	tests := []struct {
		name       string
		record     string
		numSensors int
	}{
		{"too few fields", "1,2", 3},
		{"too many fields", "1,2,3,4", 3},
		{"not a number", "1,abc,3", 3},
		{"empty field", "1,,3", 3},
		{"nan", "1,NaN,3", 3},
		{"infinity", "1,+Inf,3", 3},
		{"binary garbage", "\x00\xff\x13", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var samples []Sample
			var err error
			assert.NotPanics(t, func() {
				samples, err = parser.Parse([]byte(tt.record), tt.numSensors)
			})
			assert.ErrorIs(t, err, ErrMalformedRecord)
			assert.Nil(t, samples)
		})
	}
}

func TestParseRecordBlankLineYieldsNothing(t *testing.T) {
	samples, err := NewRecordParser(',').Parse([]byte("  \n"), 4)
	assert.NoError(t, err)
	assert.Empty(t, samples)
}

func TestParseRecordWhitespaceDelimiter(t *testing.T) {
	samples, err := NewRecordParser(' ').Parse([]byte("1   2\t3"), 3)
	require.NoError(t, err)
	assert.Equal(t, []Sample{{0, 1}, {1, 2}, {2, 3}}, samples)
}

func TestParseRecordSemicolonDelimiter(t *testing.T) {
	samples, err := NewRecordParser(';').Parse([]byte("4;5"), 2)
	require.NoError(t, err)
	assert.Equal(t, []Sample{{0, 4}, {1, 5}}, samples)
}
