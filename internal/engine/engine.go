package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/replica/internal/model"
	"github.com/roach88/replica/internal/objectstore"
	"github.com/roach88/replica/internal/patcher"
	"github.com/roach88/replica/internal/remote"
	"github.com/roach88/replica/internal/tempid"
)

// Defaults for the engine's timing and queue bounds.
const (
	DefaultOperationTimeout = 30 * time.Second
	DefaultStuckAfter       = 10 * time.Second
	DefaultSweepInterval    = time.Second
	DefaultAlertBuffer      = 64
	DefaultHeldLimit        = 256
)

// Engine is the replica's single-writer event loop. It owns the object
// store, the provisional id reconciler and the push patcher, and runs every
// mutation of them on the Run goroutine.
//
// Thread-safety model:
//   - Dispatch, Cancel, Retry, Push, Load, Evict, SubscribeView: safe from
//     any goroutine; they submit work to the loop and wait for its commit
//   - Get, Snapshot, Alerts: safe from any goroutine; they read the last
//     committed snapshot
//   - Run: must be called from exactly one goroutine
type Engine struct {
	store   *objectstore.Store
	ids     *tempid.Reconciler
	patcher *patcher.Patcher
	remote  remote.Remote
	queue   *eventQueue

	opGen OpIDGenerator
	idGen tempid.Generator
	ref   model.RefData
	now   func() time.Time

	opTimeout     time.Duration
	stuckAfter    time.Duration
	sweepInterval time.Duration
	queueLimit    int
	heldLimit     int

	// Loop-owned state.
	runCtx   context.Context
	ops      map[string]*operation
	owners   map[model.Identity]*operation
	creating map[model.Kind]int
	held     map[model.Kind]map[model.Identity]time.Time
	views    map[int]*viewSub
	nextView int
	settled  []*Handle
	replies  []chan struct{}

	snap    atomic.Pointer[objectstore.Snapshot]
	alerts  chan *Error
	stopped chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithOperationTimeout sets how long an operation may stay unresolved before
// it is rolled back. Zero disables automatic rollback.
func WithOperationTimeout(d time.Duration) Option {
	return func(e *Engine) { e.opTimeout = d }
}

// WithStuckAfter sets the age at which an unresolved operation is reported
// as stuck. Zero disables the report.
func WithStuckAfter(d time.Duration) Option {
	return func(e *Engine) { e.stuckAfter = d }
}

// WithSweepInterval sets how often Run checks for stuck operations. Zero
// disables the periodic sweep; Sweep can still be called directly.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Engine) { e.sweepInterval = d }
}

// WithPendingQueueLimit bounds the per-identity queue of push events held
// while a record is pending.
func WithPendingQueueLimit(n int) Option {
	return func(e *Engine) { e.queueLimit = n }
}

// WithHeldLimit bounds how many unknown identities per kind may have push
// events held while a create of that kind is in flight. Events for further
// identities are applied at once.
func WithHeldLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.heldLimit = n
		}
	}
}

// WithRefData sets the cached reference data used to fill joined fields of
// optimistic records.
func WithRefData(ref model.RefData) Option {
	return func(e *Engine) { e.ref = ref }
}

// WithNow sets the wall clock used for operation ages, the operation
// timeout and held push events. Timers only wake the loop; expiry is always
// judged against this clock.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithOpIDGenerator sets the operation id generator.
func WithOpIDGenerator(g OpIDGenerator) Option {
	return func(e *Engine) { e.opGen = g }
}

// WithIDGenerator sets the provisional id generator.
func WithIDGenerator(g tempid.Generator) Option {
	return func(e *Engine) { e.idGen = g }
}

// New creates an engine that writes through r.
func New(r remote.Remote, opts ...Option) *Engine {
	e := &Engine{
		store:         objectstore.New(),
		remote:        r,
		queue:         newEventQueue(),
		opGen:         UUIDv7Generator{},
		now:           time.Now,
		opTimeout:     DefaultOperationTimeout,
		stuckAfter:    DefaultStuckAfter,
		sweepInterval: DefaultSweepInterval,
		queueLimit:    patcher.DefaultQueueLimit,
		heldLimit:     DefaultHeldLimit,
		runCtx:        context.Background(),
		ops:           make(map[string]*operation),
		owners:        make(map[model.Identity]*operation),
		creating:      make(map[model.Kind]int),
		held:          make(map[model.Kind]map[model.Identity]time.Time),
		views:         make(map[int]*viewSub),
		alerts:        make(chan *Error, DefaultAlertBuffer),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.idGen == nil {
		e.idGen = tempid.NewSessionGenerator(tempid.DefaultPrefix)
	}
	e.ids = tempid.New(e.store, e.idGen, e.now)
	e.patcher = patcher.New(e.store, e.queueLimit)

	e.snap.Store(e.store.Snapshot())
	e.store.Subscribe(e.onBatch)
	return e
}

// Run starts the single-writer event loop.
// Blocks until ctx is cancelled or Stop is called.
//
// Must be called from exactly one goroutine, exactly once. Remote calls
// issued by the engine inherit ctx.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting")
	defer close(e.stopped)

	e.runCtx = ctx

	var tick <-chan time.Time
	if e.sweepInterval > 0 && (e.stuckAfter > 0 || e.opTimeout > 0) {
		t := time.NewTicker(e.sweepInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		if ev, ok := e.queue.TryDequeue(); ok {
			e.process(ev)
			e.commit()
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			e.shutdown()
			return ctx.Err()

		case <-tick:
			e.sweep()
			e.commit()

		case <-e.queue.Wait():
			if e.queue.Drained() {
				slog.Info("engine stopping: queue closed")
				e.shutdown()
				return nil
			}
		}
	}
}

// Stop closes the event queue. Run returns once the queued events are
// processed.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Stopped is closed when Run has returned.
func (e *Engine) Stopped() <-chan struct{} {
	return e.stopped
}

// Get returns the committed record at id.
func (e *Engine) Get(id model.Identity) (model.Record, bool) {
	return e.snap.Load().Get(id)
}

// Snapshot returns the last committed store snapshot.
func (e *Engine) Snapshot() *objectstore.Snapshot {
	return e.snap.Load()
}

// Alerts delivers StuckOperationWarning and IdentityConflict errors. Alerts
// are dropped, with a warning log, when nobody drains the channel.
func (e *Engine) Alerts() <-chan *Error {
	return e.alerts
}

// do runs fn on the loop and waits until the step it ran in is committed.
// If ctx ends first, fn may still run later.
func (e *Engine) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !e.queue.Enqueue(event{Type: EventTypeCall, call: fn, done: done}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		// The step may have committed just before Run returned.
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

func (e *Engine) process(ev event) {
	switch ev.Type {
	case EventTypeCall:
		if ev.call != nil {
			ev.call()
		}
		if ev.done != nil {
			e.replies = append(e.replies, ev.done)
		}
	case EventTypeCompletion:
		e.complete(ev.completion)
	case EventTypeTimeout:
		e.timeout(ev.opID, ev.attempt)
	default:
		slog.Error("unknown event type", "type", int(ev.Type))
	}
}

// commit publishes the step's store changes, then releases everyone waiting
// on it. Settled handles are closed after the flush so a waiter always sees
// the state that settled it.
func (e *Engine) commit() {
	e.store.Flush()

	for _, h := range e.settled {
		close(h.done)
	}
	e.settled = e.settled[:0]

	for _, ch := range e.replies {
		close(ch)
	}
	e.replies = e.replies[:0]
}

func (e *Engine) onBatch(b objectstore.Batch) {
	e.snap.Store(b.Snapshot)
	e.refreshViews(b)
}

func (e *Engine) shutdown() {
	for _, o := range e.ops {
		o.stopTimer()
		if o.cancel != nil {
			o.cancel()
		}
	}
	for _, v := range e.views {
		v.close()
	}
}

func (e *Engine) alert(err *Error) {
	select {
	case e.alerts <- err:
	default:
		slog.Warn("alert dropped: channel full",
			"code", string(err.Code),
			"op_id", err.OpID,
			"identity", err.Identity.String(),
		)
	}
}
