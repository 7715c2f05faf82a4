package statistics

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"pngoo-go/internal/batch"
)

// Statistics accumulates counters for one batch run. Observe may be called
// from any goroutine.
type Statistics struct {
	TotalFiles      int64
	FilesProcessed  int64
	FilesCompressed int64
	FilesKept       int64
	FilesWithErrors int64

	BytesIn  int64
	BytesOut int64

	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	FilesPerSecond float64
	Cancelled      bool

	Errors []StatError

	mutex sync.RWMutex

	ErrorKindStats map[string]int64
}

// StatError represents a file that failed.
type StatError struct {
	FilePath  string
	Kind      string
	Error     string
	Timestamp time.Time
}

// NewStatistics returns statistics for a batch of total files.
func NewStatistics(total int) *Statistics {
	return &Statistics{
		TotalFiles:     int64(total),
		StartTime:      time.Now(),
		Errors:         make([]StatError, 0),
		ErrorKindStats: make(map[string]int64),
	}
}

// Observe records one outcome.
func (s *Statistics) Observe(o batch.Outcome) {
	atomic.AddInt64(&s.FilesProcessed, 1)

	if !o.Succeeded() {
		atomic.AddInt64(&s.FilesWithErrors, 1)
		s.AddError(o.OriginalPath, o.ErrorKind, o.ErrorMessage)
		return
	}

	atomic.AddInt64(&s.BytesIn, o.OriginalSize)
	atomic.AddInt64(&s.BytesOut, o.WrittenSize)
	if o.KeptOriginal() {
		atomic.AddInt64(&s.FilesKept, 1)
	} else {
		atomic.AddInt64(&s.FilesCompressed, 1)
	}
}

// AddError records a failed file.
func (s *Statistics) AddError(filePath, kind, message string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		FilePath:  filePath,
		Kind:      kind,
		Error:     message,
		Timestamp: time.Now(),
	})
	s.ErrorKindStats[kind]++
}

// Finalize calculates duration and throughput from the batch result.
func (s *Statistics) Finalize(result batch.Result) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !result.StartedAt.IsZero() {
		s.StartTime = result.StartedAt
	}
	s.EndTime = result.FinishedAt
	if s.EndTime.IsZero() {
		s.EndTime = time.Now()
	}
	s.Duration = s.EndTime.Sub(s.StartTime)
	s.Cancelled = result.Cancelled

	if s.Duration.Seconds() > 0 {
		s.FilesPerSecond = float64(atomic.LoadInt64(&s.FilesProcessed)) / s.Duration.Seconds()
	}
}

// BytesSaved returns bytes in minus bytes out over successful files.
func (s *Statistics) BytesSaved() int64 {
	return atomic.LoadInt64(&s.BytesIn) - atomic.LoadInt64(&s.BytesOut)
}

// SavedPercent returns the size reduction over successful files, 0..100.
// It is negative when forced output grew the files.
func (s *Statistics) SavedPercent() float64 {
	in := atomic.LoadInt64(&s.BytesIn)
	if in == 0 {
		return 0
	}
	return float64(s.BytesSaved()) / float64(in) * 100
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	status := "completed"
	if s.Cancelled {
		status = "cancelled"
	}

	return fmt.Sprintf(`PNGoo Batch Summary (%s):

Files:
		Total: %d
		Processed: %d
		Compressed: %d
		Kept Original: %d
		Errors: %d

Size:
		Before: %s
		After: %s
		Saved: %s (%.1f%%)

Performance:
		Duration: %v
		Files/Second: %.2f`,
		status,
		atomic.LoadInt64(&s.TotalFiles),
		atomic.LoadInt64(&s.FilesProcessed),
		atomic.LoadInt64(&s.FilesCompressed),
		atomic.LoadInt64(&s.FilesKept),
		atomic.LoadInt64(&s.FilesWithErrors),
		FormatBytes(atomic.LoadInt64(&s.BytesIn)),
		FormatBytes(atomic.LoadInt64(&s.BytesOut)),
		FormatBytes(s.BytesSaved()),
		s.SavedPercent(),
		s.Duration.Round(time.Millisecond),
		s.FilesPerSecond)
}

// GetErrorSummary returns a summary of the failed files, at most ten listed.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))

	kinds := make([]string, 0, len(s.ErrorKindStats))
	for kind := range s.ErrorKindStats {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		result += fmt.Sprintf("  %s: %d\n", kind, s.ErrorKindStats[kind])
	}

	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Kind,
			err.FilePath,
			err.Error)
	}
	return result
}

// Snapshot is a point-in-time copy for JSON encoding.
type Snapshot struct {
	Total        int64   `json:"total"`
	Processed    int64   `json:"processed"`
	Compressed   int64   `json:"compressed"`
	Kept         int64   `json:"kept_original"`
	Failed       int64   `json:"failed"`
	BytesIn      int64   `json:"bytes_in"`
	BytesOut     int64   `json:"bytes_out"`
	SavedPercent float64 `json:"saved_percent"`
	Cancelled    bool    `json:"cancelled"`
}

// Snapshot returns the current counters.
func (s *Statistics) Snapshot() Snapshot {
	s.mutex.RLock()
	cancelled := s.Cancelled
	s.mutex.RUnlock()

	return Snapshot{
		Total:        atomic.LoadInt64(&s.TotalFiles),
		Processed:    atomic.LoadInt64(&s.FilesProcessed),
		Compressed:   atomic.LoadInt64(&s.FilesCompressed),
		Kept:         atomic.LoadInt64(&s.FilesKept),
		Failed:       atomic.LoadInt64(&s.FilesWithErrors),
		BytesIn:      atomic.LoadInt64(&s.BytesIn),
		BytesOut:     atomic.LoadInt64(&s.BytesOut),
		SavedPercent: s.SavedPercent(),
		Cancelled:    cancelled,
	}
}

// FormatBytes returns a human-readable string for a byte count.
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		return "-" + FormatBytes(-bytes)
	}
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
