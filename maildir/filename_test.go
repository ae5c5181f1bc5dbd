package maildir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateFilename(t *testing.T) {
	ts := time.Unix(1700000000, 123456789)

	tests := []struct {
		name     string
		random   uint32
		pid      int
		worker   int
		delivery uint64
		host     string
		want     string
	}{
		{
			name:     "plain host",
			random:   42,
			pid:      1234,
			worker:   0,
			delivery: 7,
			host:     "mx.example.com",
			want:     "1700000000.R42M123456P1234T0Q7.mx.example.com",
		},
		{
			name:     "host with reserved characters",
			random:   1,
			pid:      1,
			worker:   3,
			delivery: 0,
			host:     "a/b:c",
			want:     `1700000000.R1M123456P1T3Q0.a\057b\072c`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateFilename(ts, tt.random, tt.pid, tt.worker, tt.delivery, tt.host)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, validName(got))
		})
	}
}

func TestGenerateFilenameDistinctPerWorker(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	a := GenerateFilename(ts, 5, 100, 0, 1, "h")
	b := GenerateFilename(ts, 5, 100, 1, 1, "h")
	assert.NotEqual(t, a, b)
}

func TestDeterministicFilename(t *testing.T) {
	assert.Equal(t, "0.mail", DeterministicFilename(0, 0, false))
	assert.Equal(t, "12.mail", DeterministicFilename(3, 12, false))
	assert.Equal(t, "3.12.mail", DeterministicFilename(3, 12, true))
}
