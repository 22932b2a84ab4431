package recognition

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/technosupport/ts-attend/internal/labels"
	"github.com/technosupport/ts-attend/internal/metrics"
	"github.com/technosupport/ts-attend/internal/vision"
)

const (
	startWait = 500 * time.Millisecond
	joinWait  = 3 * time.Second
)

// Status is the lock-free session snapshot handlers read.
type Status struct {
	Running    bool      `json:"running"`
	Message    string    `json:"message"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	ModelStale bool      `json:"model_stale"`
}

// Controller serializes Start/Stop for the single recognition session.
// Status reads never take the mutex.
type Controller struct {
	backend   vision.Backend
	labels    *labels.Mapper
	ledger    Marker
	publisher EventPublisher
	metrics   *metrics.Collector
	watcher   *ModelWatcher
	cfg       WorkerConfig

	mu        sync.Mutex
	active    atomic.Pointer[worker]
	startedAt atomic.Pointer[time.Time]
	lastErr   atomic.Pointer[string]
}

func NewController(backend vision.Backend, mapper *labels.Mapper, ledger Marker, publisher EventPublisher, collector *metrics.Collector, watcher *ModelWatcher, cfg WorkerConfig) *Controller {
	return &Controller{
		backend:   backend,
		labels:    mapper,
		ledger:    ledger,
		publisher: publisher,
		metrics:   collector,
		watcher:   watcher,
		cfg:       cfg,
	}
}

// Start launches a session and waits a bounded window for it to reach
// Running. A worker that is still initializing when the window closes keeps
// starting in the background; the caller gets ErrStartTimeout and can poll
// Status.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A pending worker counts as running: a session that is still
	// initializing past the start window must not be displaced, or its
	// camera would never be released.
	if w := c.active.Load(); w != nil {
		select {
		case <-w.done:
		default:
			return ErrAlreadyRunning
		}
	}

	w := newWorker(c.backend, c.labels, c.ledger, c.publisher, c.metrics, c.cfg)
	go w.run()

	select {
	case err := <-w.ready:
		if err != nil {
			c.setError(err)
			return err
		}
		c.adopt(w)
		return nil
	case <-time.After(startWait):
		c.adopt(w)
		go func() {
			if err := <-w.ready; err != nil {
				log.Printf("[Controller] Deferred session start failed: %v", err)
				c.setError(err)
			}
		}()
		return ErrStartTimeout
	}
}

func (c *Controller) adopt(w *worker) {
	now := time.Now()
	c.active.Store(w)
	c.startedAt.Store(&now)
	c.lastErr.Store(nil)
}

func (c *Controller) setError(err error) {
	msg := err.Error()
	c.lastErr.Store(&msg)
}

// Stop signals the session and joins it. Idempotent: stopping an idle
// controller returns (false, nil). A join that outlives the deadline leaks
// the worker and possibly the camera until process exit.
func (c *Controller) Stop() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.active.Load()
	if w == nil {
		return false, nil
	}
	wasRunning := w.running.Load()
	w.stop()

	select {
	case <-w.done:
	case <-time.After(joinWait):
		log.Printf("[Controller] SEVERE: session did not stop within %s, camera may still be held", joinWait)
		c.active.Store(nil)
		return wasRunning, ErrStopTimeout
	}

	c.active.Store(nil)
	return wasRunning, nil
}

// Status is a pure read of the worker's atomic state.
func (c *Controller) Status() Status {
	st := Status{Message: "idle"}

	w := c.active.Load()
	if w != nil && w.running.Load() {
		st.Running = true
		st.Message = "recognition running"
		if t := c.startedAt.Load(); t != nil {
			st.StartedAt = *t
			if c.watcher != nil && c.watcher.ChangedSince(*t) {
				st.ModelStale = true
				st.Message = "recognition running (model retrained since start, restart to pick it up)"
			}
		}
		return st
	}
	if w != nil {
		select {
		case <-w.done:
		default:
			st.Message = "session starting"
			return st
		}
	}

	if msg := c.lastErr.Load(); msg != nil {
		st.Message = "last session error: " + *msg
	}
	return st
}
