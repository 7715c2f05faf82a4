package batch

import (
	"time"
)

// OutcomeKind tells a successful file from a failed one.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeFailure
)

// String returns the kind name.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Outcome reports what happened to one claimed file. Exactly one is emitted
// per claimed index.
type Outcome struct {
	Kind         OutcomeKind
	Index        int
	OriginalPath string

	// Set on success.
	NewPath string
	// Strategy is the name of the winning strategy, or empty when the
	// original bytes were kept.
	Strategy     string
	OriginalSize int64
	WrittenSize  int64

	// Set on failure.
	ErrorKind    string
	ErrorMessage string
	Err          error

	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded reports whether the file was written.
func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeSuccess
}

// KeptOriginal reports a success that wrote the original bytes.
func (o Outcome) KeptOriginal() bool {
	return o.Kind == OutcomeSuccess && o.Strategy == ""
}

// Result is the terminal summary of a batch run.
type Result struct {
	BatchID   string
	Total     int
	Processed int
	// Outcomes are in arrival order, not index order.
	Outcomes   []Outcome
	Cancelled  bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded returns the number of successful outcomes.
func (r Result) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			n++
		}
	}
	return n
}

// Failed returns the number of failed outcomes.
func (r Result) Failed() int {
	return len(r.Outcomes) - r.Succeeded()
}

// Duration returns the wall time of the run.
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Sink receives outcomes as they arrive and the final result. Calls come
// from a single goroutine, so implementations need no locking of their own
// for state touched only from these methods.
type Sink interface {
	OnOutcome(Outcome)
	OnComplete(Result)
}

// SinkFuncs adapts plain functions to a Sink. Nil fields are skipped.
type SinkFuncs struct {
	Outcome  func(Outcome)
	Complete func(Result)
}

func (s SinkFuncs) OnOutcome(o Outcome) {
	if s.Outcome != nil {
		s.Outcome(o)
	}
}

func (s SinkFuncs) OnComplete(r Result) {
	if s.Complete != nil {
		s.Complete(r)
	}
}

// MultiSink forwards to every sink in order.
type MultiSink []Sink

func (m MultiSink) OnOutcome(o Outcome) {
	for _, s := range m {
		if s != nil {
			s.OnOutcome(o)
		}
	}
}

func (m MultiSink) OnComplete(r Result) {
	for _, s := range m {
		if s != nil {
			s.OnComplete(r)
		}
	}
}
