package batch

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name          string
		originalSize  int
		candidateSize int
		recognized    bool
		force         bool
		wantCandidate bool
	}{
		{"equal size keeps original", 100, 100, true, false, false},
		{"smaller candidate wins", 100, 99, true, false, true},
		{"larger candidate forced", 100, 150, true, true, true},
		{"larger candidate keeps original", 100, 150, true, false, false},
		{"unrecognized original always takes candidate", 100, 150, false, false, true},
		{"equal size forced", 100, 100, true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := bytes.Repeat([]byte{'o'}, tt.originalSize)
			candidate := bytes.Repeat([]byte{'c'}, tt.candidateSize)

			data, winner := Decide(original, candidate, tt.recognized, tt.force)

			assert.Equal(t, tt.wantCandidate, winner)
			if tt.wantCandidate {
				assert.Equal(t, candidate, data)
			} else {
				assert.Equal(t, original, data)
			}
		})
	}
}
