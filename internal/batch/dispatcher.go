package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pngoo-go/internal/compressor"
	"pngoo-go/internal/logger"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// State is the lifecycle stage of a Dispatcher.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCancelling
	StateCompleted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCancelling:
		return "cancelling"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Dispatcher runs batches on a fixed pool of workers sharing one Cursor.
type Dispatcher struct {
	registry *compressor.Registry
	logger   *logrus.Logger

	mu      sync.Mutex
	state   State
	batchID string
	cursor  *Cursor
	done    chan struct{}
	result  Result

	// beforeLaunch runs once the cursor exists and before any worker starts.
	beforeLaunch func()
}

// run holds everything one batch run needs. Workers only share the cursor
// and the outcomes channel.
type run struct {
	id       string
	cfg      Config
	strategy compressor.Strategy
	cursor   *Cursor
	outcomes chan Outcome
	sink     Sink
	started  time.Time
}

// NewDispatcher returns an idle dispatcher that picks strategies from registry.
func NewDispatcher(registry *compressor.Registry, log *logrus.Logger) *Dispatcher {
	if log == nil {
		log = logrus.New()
	}
	done := make(chan struct{})
	close(done)
	return &Dispatcher{
		registry: registry,
		logger:   log,
		done:     done,
	}
}

// Start validates cfg and launches the batch in the background. It returns
// an ErrConfiguration error without starting anything when cfg is unusable,
// and does nothing while a batch is already running.
//
// Cancelling ctx has the effect of Cancel and also aborts tool processes that
// are still running; those files are reported as failures.
func (d *Dispatcher) Start(ctx context.Context, cfg Config, sink Sink) error {
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.Lock()
	if d.state == StateRunning || d.state == StateCancelling {
		d.mu.Unlock()
		d.logger.Debug("Batch already running, ignoring start request")
		return nil
	}

	cfg = cfg.snapshot()
	if err := cfg.Validate(); err != nil {
		d.mu.Unlock()
		return err
	}
	strategy, err := d.registry.For(cfg.Settings)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if sink == nil {
		sink = SinkFuncs{}
	}

	workers := cfg.workerCount()
	r := &run{
		id:       uuid.NewString(),
		cfg:      cfg,
		strategy: strategy,
		cursor:   NewCursor(len(cfg.Files)),
		outcomes: make(chan Outcome, workers),
		sink:     sink,
		started:  time.Now(),
	}
	done := make(chan struct{})
	d.batchID = r.id
	d.cursor = r.cursor
	d.done = done
	d.result = Result{}
	d.state = StateRunning
	if ctx.Err() != nil {
		r.cursor.Cancel()
		d.state = StateCancelling
	}
	d.mu.Unlock()

	d.logger.WithFields(logrus.Fields{
		"batch_id": r.id,
		"files":    len(cfg.Files),
		"workers":  workers,
		"strategy": strategy.Name(),
	}).Info("Starting batch")

	for _, c := range OutputCollisions(cfg.Files, cfg.OutputDirectory, strategy.Extension()) {
		d.logger.WithFields(logrus.Fields{
			"batch_id": r.id,
			"output":   c.Output,
			"inputs":   c.Inputs,
		}).Warn("Several inputs write the same output, the last one to finish wins")
	}

	if d.beforeLaunch != nil {
		d.beforeLaunch()
	}

	stop := context.AfterFunc(ctx, d.Cancel)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			d.worker(ctx, r)
		}()
	}
	go func() {
		wg.Wait()
		close(r.outcomes)
	}()
	go d.collect(r, done, stop)

	return nil
}

// Cancel stops new files from being claimed. Files already being processed
// finish normally.
func (d *Dispatcher) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateRunning {
		return
	}
	d.cursor.Cancel()
	d.state = StateCancelling
	d.logger.WithField("claimed", d.cursor.Claimed()).Info("Batch cancelled, finishing in-flight files")
}

// Done is closed when the current batch has completed.
func (d *Dispatcher) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// Wait blocks until the current batch completes and returns its result.
func (d *Dispatcher) Wait() Result {
	<-d.Done()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.result
}

// State returns the current lifecycle state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// BatchID returns the ID of the current or most recent batch.
func (d *Dispatcher) BatchID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.batchID
}

// Progress returns how many files have been claimed out of the total.
func (d *Dispatcher) Progress() (claimed, total int) {
	d.mu.Lock()
	cursor := d.cursor
	d.mu.Unlock()
	if cursor == nil {
		return 0, 0
	}
	return cursor.Claimed(), cursor.Total()
}

// collect is the only goroutine that talks to the sink.
func (d *Dispatcher) collect(r *run, done chan struct{}, stop func() bool) {
	result := Result{
		BatchID:   r.id,
		Total:     len(r.cfg.Files),
		StartedAt: r.started,
	}

	for o := range r.outcomes {
		result.Outcomes = append(result.Outcomes, o)
		d.deliver(func() { r.sink.OnOutcome(o) })
	}
	stop()

	result.Processed = len(result.Outcomes)
	result.Cancelled = r.cursor.Cancelled()
	result.FinishedAt = time.Now()

	d.mu.Lock()
	d.state = StateCompleted
	d.result = result
	d.mu.Unlock()

	d.logger.WithFields(logrus.Fields{
		"batch_id":  r.id,
		"processed": result.Processed,
		"failed":    result.Failed(),
		"cancelled": result.Cancelled,
		"duration":  result.Duration().String(),
	}).Info("Batch completed")

	d.deliver(func() { r.sink.OnComplete(result) })
	close(done)
}

// deliver shields the collector from a panicking sink.
func (d *Dispatcher) deliver(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Errorf("Outcome sink panicked: %v", rec)
		}
	}()
	fn()
}

func (d *Dispatcher) worker(ctx context.Context, r *run) {
	for {
		index, ok := r.cursor.Claim()
		if !ok {
			return
		}
		r.outcomes <- d.process(ctx, r, index)
	}
}

// process handles one file. Every error ends up in the returned outcome.
func (d *Dispatcher) process(ctx context.Context, r *run, index int) (out Outcome) {
	path := r.cfg.Files[index]
	out = Outcome{Kind: OutcomeSuccess, Index: index, OriginalPath: path, StartedAt: time.Now()}
	log := logger.WithFileOperation(d.logger, path, "compress")

	defer func() {
		if rec := recover(); rec != nil {
			out = failed(out, fmt.Errorf("panic while processing: %v", rec))
		}
		out.FinishedAt = time.Now()
		if out.Succeeded() {
			log.WithFields(logrus.Fields{
				"output":   out.NewPath,
				"strategy": out.Strategy,
				"before":   out.OriginalSize,
				"after":    out.WrittenSize,
			}).Debug("File processed")
		} else {
			log.WithField("error_kind", out.ErrorKind).Warnf("File failed: %s", out.ErrorMessage)
		}
	}()

	original, err := os.ReadFile(path)
	if err != nil {
		return failed(out, fmt.Errorf("%w: read: %v", compressor.ErrIO, err))
	}
	out.OriginalSize = int64(len(original))

	recognized := r.strategy.Recognizes(original)
	data, winner := original, false

	candidate, err := r.strategy.Compress(ctx, original, r.cfg.Settings)
	switch {
	case errors.Is(err, compressor.ErrNoImprovement):
		if !recognized {
			return failed(out, fmt.Errorf("%w: no output produced for non-%s input",
				compressor.ErrExternalToolFailed, r.strategy.Extension()))
		}
	case err != nil:
		return failed(out, err)
	default:
		data, winner = Decide(original, candidate, recognized, r.cfg.OutputIfLarger)
	}

	outPath := ResolveOutputPath(path, r.cfg.OutputDirectory, r.strategy.Extension())
	if err := writeFile(outPath, data); err != nil {
		return failed(out, fmt.Errorf("%w: write %s: %v", compressor.ErrIO, outPath, err))
	}

	out.NewPath = outPath
	out.WrittenSize = int64(len(data))
	if winner {
		out.Strategy = r.strategy.Name()
	}
	return out
}

func failed(o Outcome, err error) Outcome {
	o.Kind = OutcomeFailure
	o.NewPath = ""
	o.Strategy = ""
	o.WrittenSize = 0
	o.Err = err
	o.ErrorKind = compressor.Classify(err)
	o.ErrorMessage = err.Error()
	return o
}

// writeFile replaces path with data through a temp file in the same
// directory, so a failed write never leaves a truncated target.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".pngoo-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
