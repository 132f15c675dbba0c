package handover

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shiva/rentwheels/internal/model"
)

// DefaultRecheckInterval is how often a watched gate is re-evaluated.
const DefaultRecheckInterval = 60 * time.Second

// ErrWatcherStarted is returned when Start is called twice.
var ErrWatcherStarted = errors.New("handover: watcher already started")

// EvalFunc produces the current gate view, typically by reloading the booking.
type EvalFunc func(ctx context.Context) (model.GateView, error)

// Watcher re-evaluates a gate once on Start and then on a fixed interval,
// calling OnChange whenever the view differs from the last one delivered.
// It is not a push channel: nothing outside the ticker triggers evaluation.
//
// The recurring timer is owned by the watcher. Stop must be called on every
// exit path; cancelling the Start context has the same effect.
type Watcher struct {
	interval time.Duration
	eval     EvalFunc

	// OnChange receives each new view. It runs on the watcher goroutine.
	OnChange func(model.GateView)
	// OnError receives evaluation errors. The watcher keeps running.
	OnError func(error)

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWatcher creates a watcher. A non-positive interval uses DefaultRecheckInterval.
func NewWatcher(interval time.Duration, eval EvalFunc) *Watcher {
	if interval <= 0 {
		interval = DefaultRecheckInterval
	}
	return &Watcher{interval: interval, eval: eval}
}

// Start evaluates immediately and then every interval until Stop is called or
// ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return ErrWatcherStarted
	}
	w.started = true

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.run(ctx)
	return nil
}

// Stop cancels the timer and waits for the watcher goroutine to exit. It is
// safe to call more than once and before Start.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed once the watcher goroutine has exited.
func (w *Watcher) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var last *model.GateView
	check := func() {
		v, err := w.eval(ctx)
		if err != nil {
			if ctx.Err() == nil && w.OnError != nil {
				w.OnError(err)
			}
			return
		}
		if last != nil && sameView(*last, v) {
			return
		}
		last = &v
		if w.OnChange != nil {
			w.OnChange(v)
		}
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

func sameView(a, b model.GateView) bool {
	if a.State != b.State || a.Countdown != b.Countdown || a.Overdue != b.Overdue {
		return false
	}
	if (a.OpensAt == nil) != (b.OpensAt == nil) {
		return false
	}
	return a.OpensAt == nil || a.OpensAt.Equal(*b.OpensAt)
}
