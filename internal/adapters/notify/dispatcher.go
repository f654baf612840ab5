package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/baseline/internal/adapters/repository"
	"github.com/okian/baseline/internal/domain/dedupe"
	"github.com/okian/baseline/pkg/logger"
	"github.com/okian/baseline/pkg/metrics"
)

const (
	defaultBatchSize    = 256
	defaultPollInterval = 5 * time.Second
)

// ErrNotRunning is returned by Flush when the dispatcher is stopped.
var ErrNotRunning = errors.New("dispatcher not running")

// Source is the outbox the dispatcher reads.
type Source interface {
	UpdatesAfter(ctx context.Context, after int64, limit int) ([]repository.Update, error)
	DeliveredCursor(ctx context.Context) (int64, error)
	SetDeliveredCursor(ctx context.Context, seq int64) error
}

// Executor runs a delivery on the context listeners expect, such as a UI
// main loop. fn may run later on another goroutine; the dispatcher waits for
// it before recording the row as delivered.
type Executor interface {
	Execute(fn func())
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(fn func())

// Execute calls f(fn).
func (f ExecutorFunc) Execute(fn func()) { f(fn) }

type inline struct{}

func (inline) Execute(fn func()) { fn() }

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithExecutor routes deliveries through e.
func WithExecutor(e Executor) Option {
	return func(d *Dispatcher) {
		if e != nil {
			d.exec = e
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithDeduper sets the seq deduper.
func WithDeduper(dd dedupe.Deduper[int64]) Option {
	return func(d *Dispatcher) {
		if dd != nil {
			d.seen = dd
		}
	}
}

// WithBatchSize limits rows read per query.
func WithBatchSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batch = n
		}
	}
}

// WithPollInterval sets how often the outbox is checked without a wake-up.
func WithPollInterval(iv time.Duration) Option {
	return func(d *Dispatcher) {
		if iv > 0 {
			d.poll = iv
		}
	}
}

// Dispatcher drains the outbox on a single goroutine and delivers each row
// to the bus. Delivery is at-least-once across restarts: the cursor is
// persisted after the executor has run every delivery of a batch.
type Dispatcher struct {
	src   Source
	bus   *Bus
	exec  Executor
	seen  dedupe.Deduper[int64]
	batch int
	poll  time.Duration

	wake    chan struct{}
	flushes chan chan error

	mu      sync.Mutex
	cursor  int64
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	logger logger.Logger
}

// NewDispatcher creates a stopped dispatcher.
func NewDispatcher(src Source, bus *Bus, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		src:     src,
		bus:     bus,
		exec:    inline{},
		batch:   defaultBatchSize,
		poll:    defaultPollInterval,
		wake:    make(chan struct{}, 1),
		flushes: make(chan chan error),
		logger:  logger.Discard(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.seen == nil {
		d.seen = dedupe.NewInMemoryDeduper[int64]()
	}
	return d
}

// Start loads the persisted cursor and starts the delivery goroutine.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}

	cursor, err := d.src.DeliveredCursor(ctx)
	if err != nil {
		return fmt.Errorf("load delivery cursor: %w", err)
	}
	d.cursor = cursor

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running = true

	go d.run(runCtx, d.done)
	d.Notify()
	return nil
}

// Notify wakes the dispatcher. It never blocks.
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Flush delivers every row committed before the call and returns once
// the executor has run them. It must not be called from the goroutine a
// deferring executor runs deliveries on.
func (d *Dispatcher) Flush(ctx context.Context) error {
	d.mu.Lock()
	running, done := d.running, d.done
	d.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	reply := make(chan error, 1)
	select {
	case d.flushes <- reply:
	case <-done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cursor returns the last delivered seq.
func (d *Dispatcher) Cursor() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursor
}

// Stop ends the delivery goroutine and waits for it.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	cancel()
	<-done
}

func (d *Dispatcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
			d.logErr(ctx, d.drain(ctx))
		case <-ticker.C:
			d.logErr(ctx, d.drain(ctx))
		case reply := <-d.flushes:
			reply <- d.drain(ctx)
		}
	}
}

func (d *Dispatcher) logErr(ctx context.Context, err error) {
	if err != nil && ctx.Err() == nil {
		metrics.RecordErrorByComponent("notify", "drain_error")
		d.logger.Error(ctx, "outbox delivery failed", logger.Error(err))
	}
}

// drain delivers rows after the cursor until the outbox is exhausted.
func (d *Dispatcher) drain(ctx context.Context) error {
	for {
		d.mu.Lock()
		cursor := d.cursor
		d.mu.Unlock()

		rows, err := d.src.UpdatesAfter(ctx, cursor, d.batch)
		if err != nil {
			return fmt.Errorf("read outbox after %d: %w", cursor, err)
		}
		if len(rows) == 0 {
			return nil
		}

		delivered := make([]chan struct{}, 0, len(rows))
		for _, row := range rows {
			if d.seen.SeenAndRecord(ctx, row.Seq) {
				metrics.RecordUpdateDuplicate()
				continue
			}
			e := Event{Name: ResultUpdated, ResultID: row.ResultID, Seq: row.Seq, Cause: row.Cause, At: row.CreatedAt}
			ch := make(chan struct{})
			delivered = append(delivered, ch)
			d.exec.Execute(func() {
				defer close(ch)
				d.bus.Publish(e)
				metrics.RecordUpdateDelivered()
			})
		}
		// the cursor only moves past rows the executor has actually run
		for _, ch := range delivered {
			select {
			case <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		last := rows[len(rows)-1].Seq
		if err := d.src.SetDeliveredCursor(ctx, last); err != nil {
			return fmt.Errorf("persist delivery cursor %d: %w", last, err)
		}
		d.mu.Lock()
		d.cursor = last
		d.mu.Unlock()

		if len(rows) < d.batch {
			return nil
		}
	}
}
