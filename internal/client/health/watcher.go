package health

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/projflow/internal/logging"
)

const (
	DefaultInterval     = 30 * time.Second
	DefaultProbeTimeout = 3 * time.Second
)

// Watcher polls a Prober and fires onOnline on every offline to online
// edge. The backend counts as offline until the first successful probe.
type Watcher struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	onOnline func(ctx context.Context)
	log      logging.Logger

	mu     sync.Mutex
	online bool
}

type WatcherOption func(*Watcher)

func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithProbeTimeout(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.timeout = d
		}
	}
}

func WithLogger(l logging.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

func NewWatcher(p Prober, onOnline func(ctx context.Context), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		prober:   p,
		interval: DefaultInterval,
		timeout:  DefaultProbeTimeout,
		onOnline: onOnline,
		log:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With("component", "health")
	return w
}

// Online reports the result of the latest probe.
func (w *Watcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// Run probes once immediately and then on every tick until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Check(ctx)
	for {
		select {
		case <-ticker.C:
			w.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Check runs a single probe and reports whether the backend is online.
func (w *Watcher) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, w.timeout)
	err := w.prober.Probe(probeCtx)
	cancel()

	online := err == nil

	w.mu.Lock()
	was := w.online
	w.online = online
	w.mu.Unlock()

	switch {
	case online && !was:
		w.log.Info(ctx, "backend is online")
		if w.onOnline != nil {
			w.onOnline(ctx)
		}
	case !online && was:
		w.log.Warn(ctx, "backend went offline", "error", err)
	}
	return online
}
