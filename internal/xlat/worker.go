package xlat

import (
	"sync"

	"github.com/vitlabuda/tundra-nat64-sub001/internal/metrics"
	"github.com/vitlabuda/tundra-nat64-sub001/internal/xlog"
)

// Engine owns the worker pool: N goroutines, each with its own
// ThreadContext, each running the receive->classify->translate->send loop
// of spec.md §4.8 until shouldKeepRunning flips false. Spawn/join mirrors
// the teacher's device.NewDevice: a "starting" WaitGroup Run waits on before
// returning, a "stopping" WaitGroup Stop and Wait wait on.
type Engine struct {
	cfg     *Config
	log     *xlog.Logger
	metrics *metrics.Counters

	shouldKeepRunning AtomicBool

	starting sync.WaitGroup
	stopping sync.WaitGroup

	done     chan struct{}
	doneOnce sync.Once

	errMu    sync.Mutex
	firstErr error

	contexts []*ThreadContext
}

// EndpointPair is one worker's read/write handles -- for a shared TUN
// device these are typically the same Endpoint used for both directions;
// for an fd-pair deployment they're distinct.
type EndpointPair struct {
	Read  Endpoint
	Write Endpoint
}

// NewEngine builds a worker pool against cfg, one ThreadContext per entry
// in endpoints (len(endpoints) == cfg.WorkerCount is the normal case: one
// worker per queue/fd pair). It does not start the workers; call Run for
// that.
func NewEngine(cfg *Config, endpoints []EndpointPair, m *metrics.Counters, log *xlog.Logger) *Engine {
	e := &Engine{cfg: cfg, log: log, metrics: m, done: make(chan struct{})}
	e.contexts = make([]*ThreadContext, len(endpoints))
	for i, ep := range endpoints {
		e.contexts[i] = NewThreadContext(i, cfg, ep.Read, ep.Write, m, log)
	}
	return e
}

// Run spawns one goroutine per ThreadContext, waits for them all to reach
// their loop head (the "starting" rendezvous), and returns. Workers run
// until Stop is called or a worker hits a fatal I/O error / invariant
// violation, in which case Done closes and Err reports the first such
// error.
func (e *Engine) Run() {
	e.shouldKeepRunning.Set(true)

	for _, ctx := range e.contexts {
		e.starting.Add(1)
		e.stopping.Add(1)
		go e.runWorker(ctx)
	}

	e.starting.Wait()

	go func() {
		e.stopping.Wait()
		e.doneOnce.Do(func() { close(e.done) })
	}()
}

// Stop flips the shared running predicate and waits for every worker to
// notice (at the top of its next loop iteration, per spec.md §5's
// cancellation model: workers never cancel mid-packet) and return.
func (e *Engine) Stop() {
	e.shouldKeepRunning.Set(false)
	e.stopping.Wait()
}

// Wait blocks until every worker has exited, whether due to Stop or a
// fatal error. Use Err to inspect why afterward.
func (e *Engine) Wait() {
	e.stopping.Wait()
}

// Done reports, via channel closure, when every worker has exited -- either
// because Stop was called or because a worker hit a fatal I/O error or
// invariant violation on its own. A caller blocked on an external shutdown
// signal selects on this alongside that signal to notice a self-triggered
// shutdown instead of hanging past it.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Err returns the first fatal error a worker recorded before exiting on its
// own, or nil if every worker is still running or exited solely because of
// Stop.
func (e *Engine) Err() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.firstErr
}

func (e *Engine) recordErr(err error) {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	if e.firstErr == nil {
		e.firstErr = err
	}
}

func (e *Engine) runWorker(ctx *ThreadContext) {
	e.starting.Done()
	defer e.stopping.Done()

	for e.shouldKeepRunning.Get() {
		if err := RecvIntoIn(ctx); err != nil {
			if IsFatal(err) {
				ctx.Log.Error.Println("fatal I/O error on read, worker exiting:", err)
				e.recordErr(err)
				e.shouldKeepRunning.Set(false)
				return
			}
			continue // retriable error already looped inside the Endpoint
		}

		if ctx.InSize < 20 {
			if ctx.Metrics != nil {
				ctx.Metrics.PacketsDropped.WithLabelValues(metrics.DropReasonShortRead).Inc()
			}
			continue // short read, silently dropped per spec.md §4.3
		}

		if err := translateAndSend(ctx); err != nil {
			if err == ErrInvariantViolation {
				ctx.Log.Error.Println("invariant violation, worker exiting:", err)
				e.recordErr(err)
				e.shouldKeepRunning.Set(false)
				return
			}
			if IsFatal(err) {
				ctx.Log.Error.Println("fatal I/O error on write, worker exiting:", err)
				e.recordErr(err)
				e.shouldKeepRunning.Set(false)
				return
			}
			ctx.Log.Debug.Println("packet send failed:", err)
		}
	}
}

// translateAndSend classifies ctx.InBuffer by IP version and drives it
// through the matching translator and I/O façade send path.
func translateAndSend(ctx *ThreadContext) error {
	version := ctx.InBuffer[0] >> 4

	switch version {
	case 4:
		switch Translate4to6(ctx) {
		case outcomeTranslated:
			return SendIPv6PossiblyFragmented(ctx)
		default:
			return nil
		}
	case 6:
		switch Translate6to4(ctx) {
		case outcomeTranslated:
			return SendIPv4PossiblyFragmented(ctx)
		default:
			return nil
		}
	default:
		if ctx.Metrics != nil {
			ctx.Metrics.PacketsDropped.WithLabelValues(metrics.DropReasonMalformedHeader).Inc()
		}
		return nil
	}
}
