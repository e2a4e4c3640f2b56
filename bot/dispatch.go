package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/virto-network/reference-bot/telemetry"
)

// HandlerFunc handles one event. A returned error is logged and dropped.
type HandlerFunc func(ctx context.Context, ev Event) error

type registered struct {
	name string
	fn   HandlerFunc
}

// Dispatcher maps event kinds to ordered handler lists. Every handler sees
// every event of its kind, each in its own goroutine, so a slow completion or
// a long join backoff never delays unrelated events.
type Dispatcher struct {
	mu    sync.RWMutex
	table map[EventKind][]registered
	wg    sync.WaitGroup
}

// NewDispatcher returns an empty dispatch table.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{table: make(map[EventKind][]registered)}
}

// Register appends fn to the handlers for kind.
func (d *Dispatcher) Register(kind EventKind, name string, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.table[kind] = append(d.table[kind], registered{name: name, fn: fn})
}

// Handlers returns the registered handler names for kind, in order.
func (d *Dispatcher) Handlers(kind EventKind) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.table[kind]))
	for _, h := range d.table[kind] {
		names = append(names, h.name)
	}
	return names
}

// Dispatch starts one goroutine per handler registered for ev.Kind and returns
// immediately. Handlers run detached from ctx cancellation: once started they
// finish on their own terms.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	d.mu.RLock()
	handlers := d.table[ev.Kind]
	d.mu.RUnlock()
	if len(handlers) == 0 {
		return
	}
	ctx = telemetry.WithCorrelation(context.WithoutCancel(ctx), uuid.NewString())
	for _, h := range handlers {
		d.wg.Add(1)
		telemetry.TrackInFlight(1)
		go d.run(ctx, h, ev)
	}
}

func (d *Dispatcher) run(ctx context.Context, h registered, ev Event) {
	defer d.wg.Done()
	defer telemetry.TrackInFlight(-1)
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("handler", h.name), slog.String("event", string(ev.Kind)))
	defer func() {
		if r := recover(); r != nil {
			telemetry.Inc(telemetry.HandlerPanics)
			logger.Error("event handler panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
		}
	}()
	if err := h.fn(ctx, ev); err != nil {
		logger.Warn("event handler failed", slog.Any("err", err))
	}
}

// Wait blocks until every dispatched handler has returned.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Drain waits for in-flight handlers for at most timeout. On timeout the
// helper goroutine keeps waiting and exits once the remaining handlers
// return; Drain is meant for shutdown, after which nothing is dispatched.
func (d *Dispatcher) Drain(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("handlers still running after %s", timeout)
	}
}
