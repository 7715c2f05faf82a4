package tui

import (
	"pngoo-go/internal/batch"
)

// ProgressSink turns batch outcomes into ProgressUpdates and closes updates
// when the batch completes, which ends the Model. Once done is closed the
// UI is gone and updates are dropped.
type ProgressSink struct {
	updates chan<- ProgressUpdate
	done    <-chan struct{}
}

func NewProgressSink(updates chan<- ProgressUpdate, done <-chan struct{}) *ProgressSink {
	return &ProgressSink{updates: updates, done: done}
}

func (p *ProgressSink) OnOutcome(o batch.Outcome) {
	u := ProgressUpdate{ProcessedDelta: 1, LastFile: o.OriginalPath}
	switch {
	case !o.Succeeded():
		u.ErrorDelta = 1
	case o.KeptOriginal():
		u.KeptDelta = 1
	default:
		u.CompressedDelta = 1
		u.BytesSavedDelta = o.OriginalSize - o.WrittenSize
	}
	select {
	case p.updates <- u:
	case <-p.done:
	}
}

func (p *ProgressSink) OnComplete(batch.Result) {
	close(p.updates)
}
