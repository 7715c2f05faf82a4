package statistics

import (
	"sync"
	"testing"
	"time"

	"pngoo-go/internal/batch"

	"github.com/stretchr/testify/assert"
)

func TestObserve(t *testing.T) {
	s := NewStatistics(4)

	s.Observe(batch.Outcome{Kind: batch.OutcomeSuccess, Strategy: "pngquant", OriginalSize: 1000, WrittenSize: 400})
	s.Observe(batch.Outcome{Kind: batch.OutcomeSuccess, OriginalSize: 200, WrittenSize: 200})
	s.Observe(batch.Outcome{Kind: batch.OutcomeFailure, OriginalPath: "/x.png", ErrorKind: "IOError", ErrorMessage: "denied"})

	snap := s.Snapshot()
	assert.Equal(t, int64(4), snap.Total)
	assert.Equal(t, int64(3), snap.Processed)
	assert.Equal(t, int64(1), snap.Compressed)
	assert.Equal(t, int64(1), snap.Kept)
	assert.Equal(t, int64(1), snap.Failed)
	assert.Equal(t, int64(1200), snap.BytesIn)
	assert.Equal(t, int64(600), snap.BytesOut)
	assert.InDelta(t, 50.0, s.SavedPercent(), 0.001)
	assert.Equal(t, int64(600), s.BytesSaved())
}

func TestObserveConcurrent(t *testing.T) {
	s := NewStatistics(100)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%10 == 0 {
				s.Observe(batch.Outcome{Kind: batch.OutcomeFailure, ErrorKind: "ExternalToolFailed"})
				return
			}
			s.Observe(batch.Outcome{Kind: batch.OutcomeSuccess, Strategy: "pngquant", OriginalSize: 10, WrittenSize: 5})
		}(i)
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, int64(100), snap.Processed)
	assert.Equal(t, int64(10), snap.Failed)
	assert.Equal(t, int64(90), snap.Compressed)
	assert.Equal(t, int64(10), s.ErrorKindStats["ExternalToolFailed"])
}

func TestFinalizeAndSummary(t *testing.T) {
	s := NewStatistics(2)
	s.Observe(batch.Outcome{Kind: batch.OutcomeSuccess, Strategy: "pngquant", OriginalSize: 2048, WrittenSize: 1024})

	start := time.Now().Add(-2 * time.Second)
	s.Finalize(batch.Result{StartedAt: start, FinishedAt: start.Add(2 * time.Second), Cancelled: true})

	assert.Equal(t, 2*time.Second, s.Duration)
	assert.InDelta(t, 0.5, s.FilesPerSecond, 0.001)

	summary := s.GetSummary()
	assert.Contains(t, summary, "cancelled")
	assert.Contains(t, summary, "Compressed: 1")
	assert.Contains(t, summary, "Saved: 1.0 KB (50.0%)")
}

func TestErrorSummary(t *testing.T) {
	s := NewStatistics(12)
	assert.Equal(t, "No errors occurred during processing", s.GetErrorSummary())

	for i := 0; i < 12; i++ {
		s.Observe(batch.Outcome{Kind: batch.OutcomeFailure, OriginalPath: "f.png", ErrorKind: "IOError", ErrorMessage: "nope"})
	}
	summary := s.GetErrorSummary()
	assert.Contains(t, summary, "Errors (12 total)")
	assert.Contains(t, summary, "IOError: 12")
	assert.Contains(t, summary, "... and 2 more errors")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KB", FormatBytes(1536))
	assert.Equal(t, "2.0 MB", FormatBytes(2*1024*1024))
	assert.Equal(t, "-1.0 KB", FormatBytes(-1024))
}
