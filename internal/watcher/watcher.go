// Package watcher implements the watch cycle: snapshot the process table,
// forget pids that vanished, match new processes against the stored rules,
// and pin matches exactly once per OS lifetime of the pid.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"simpin/internal/affinity"
	"simpin/internal/procsnap"
	"simpin/internal/rules"
)

// ErrTooManyFailures reports that process enumeration kept failing for the
// configured number of consecutive cycles. The loop stops; anything less
// persistent is retried silently.
var ErrTooManyFailures = errors.New("process snapshots failing persistently")

const (
	DefaultInterval         = 5 * time.Second
	DefaultFailureThreshold = 3
)

type Config struct {
	// Interval is the sleep between watch cycles.
	Interval time.Duration
	// FailureThreshold is how many consecutive snapshot failures stop the
	// loop.
	FailureThreshold int
	// CaseInsensitive folds case when matching process names against rules.
	CaseInsensitive bool
}

// Heartbeat is the status the watcher publishes after every cycle.
type Heartbeat struct {
	At      time.Time
	Synced  bool // no apply failed this cycle
	Matched int  // live pids currently pinned
	Err     string
}

// Stale reports whether the watcher has missed publishing for two intervals,
// meaning it is likely wedged or stopped.
func (h Heartbeat) Stale(interval time.Duration) bool {
	if h.At.IsZero() {
		return true
	}
	return time.Since(h.At) > 2*interval
}

// Watcher runs the poll loop. It owns the handled-pid set exclusively; the
// only concurrent access point is the published heartbeat.
type Watcher struct {
	cfg     Config
	snap    procsnap.Snapshotter
	store   rules.RuleLoader
	applier affinity.Applier
	log     *logrus.Entry

	handled  map[int32]struct{}
	warned   map[int32]struct{}
	failures int

	mu   sync.Mutex
	last Heartbeat
}

func New(cfg Config, snap procsnap.Snapshotter, store rules.RuleLoader, applier affinity.Applier) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	return &Watcher{
		cfg:     cfg,
		snap:    snap,
		store:   store,
		applier: applier,
		log:     logrus.WithField("component", "watcher"),
		handled: make(map[int32]struct{}),
		warned:  make(map[int32]struct{}),
	}
}

// Status returns the most recently published heartbeat. A zero At means no
// cycle has completed yet.
func (w *Watcher) Status() Heartbeat {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Interval returns the configured cycle interval.
func (w *Watcher) Interval() time.Duration {
	return w.cfg.Interval
}

// Run cycles until ctx is cancelled or snapshots fail past the threshold.
// The sleep between cycles is interruptible; an in-flight cycle always
// finishes before the loop stops, so no apply call is ever abandoned
// half-way.
func (w *Watcher) Run(ctx context.Context) error {
	w.log.WithFields(logrus.Fields{
		"interval":  w.cfg.Interval,
		"threshold": w.cfg.FailureThreshold,
	}).Info("watcher started")

	timer := time.NewTimer(w.cfg.Interval)
	defer timer.Stop()
	for {
		if err := w.RunCycle(ctx); err != nil {
			w.log.WithError(err).Error("watcher stopped")
			return err
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.cfg.Interval)
		select {
		case <-ctx.Done():
			w.log.Info("watcher stopped")
			return nil
		case <-timer.C:
		}
	}
}

// RunCycle executes one snapshot → evict → match → apply pass. A non-nil
// error is fatal to the loop; everything recoverable is handled inside.
func (w *Watcher) RunCycle(ctx context.Context) error {
	procs, err := w.snap.Snapshot(ctx)
	if err != nil {
		w.failures++
		if w.failures >= w.cfg.FailureThreshold {
			w.publish(Heartbeat{At: time.Now(), Err: err.Error()})
			return fmt.Errorf("%w: %d consecutive failures: %v",
				ErrTooManyFailures, w.failures, err)
		}
		w.log.WithError(err).WithField("failures", w.failures).
			Warn("process snapshot failed, retrying next cycle")
		w.publish(Heartbeat{At: time.Now(), Err: err.Error()})
		return nil
	}
	w.failures = 0

	ruleset, err := w.store.LoadRules(ctx)
	if err != nil {
		// The store may be mid-edit; rules are reloaded next cycle anyway.
		w.log.WithError(err).Warn("rule load failed, skipping cycle")
		w.publish(Heartbeat{At: time.Now(), Err: err.Error()})
		return nil
	}

	// Evict pids that are gone. A recycled pid number must be re-evaluated
	// as a brand new process.
	live := make(map[int32]struct{}, len(procs))
	for _, p := range procs {
		live[p.PID] = struct{}{}
	}
	for pid := range w.handled {
		if _, ok := live[pid]; !ok {
			delete(w.handled, pid)
			delete(w.warned, pid)
		}
	}

	matched := 0
	var firstErr string
	for _, p := range procs {
		mask, ok := w.match(ruleset, p.Name)
		if !ok {
			continue
		}
		if _, done := w.handled[p.PID]; done {
			matched++
			continue
		}
		if err := w.applier.Apply(p.PID, mask); err != nil {
			w.reportApplyError(p, mask, err)
			if firstErr == "" && !errors.Is(err, affinity.ErrProcessNotFound) {
				firstErr = err.Error()
			}
			continue
		}
		w.log.WithFields(logrus.Fields{
			"pid":  p.PID,
			"name": p.Name,
			"cpus": mask.String(),
		}).Info("pinned process")
		w.handled[p.PID] = struct{}{}
		delete(w.warned, p.PID)
		matched++
	}

	w.publish(Heartbeat{
		At:      time.Now(),
		Synced:  firstErr == "",
		Matched: matched,
		Err:     firstErr,
	})
	return nil
}

func (w *Watcher) match(ruleset map[string]affinity.Mask, name string) (affinity.Mask, bool) {
	if mask, ok := ruleset[name]; ok {
		return mask, true
	}
	if w.cfg.CaseInsensitive {
		for rule, mask := range ruleset {
			if strings.EqualFold(rule, name) {
				return mask, true
			}
		}
	}
	return affinity.Mask{}, false
}

// reportApplyError logs an apply failure without ever aborting the cycle.
// Deterministic failures would log identically every cycle, so those are
// reported once per pid while the pid stays live.
func (w *Watcher) reportApplyError(p procsnap.Proc, mask affinity.Mask, err error) {
	fields := logrus.Fields{"pid": p.PID, "name": p.Name, "cpus": mask.String()}
	switch {
	case errors.Is(err, affinity.ErrProcessNotFound):
		// Exited between snapshot and apply; the eviction pass cleans up
		// next cycle.
		w.log.WithFields(fields).Debug("process gone before pinning")
	case errors.Is(err, affinity.ErrPermissionDenied), errors.Is(err, affinity.ErrInvalidMask):
		if _, seen := w.warned[p.PID]; seen {
			return
		}
		w.warned[p.PID] = struct{}{}
		w.log.WithFields(fields).WithError(err).Warn("cannot pin process")
	default:
		w.log.WithFields(fields).WithError(err).Warn("affinity apply failed")
	}
}

func (w *Watcher) publish(h Heartbeat) {
	w.mu.Lock()
	w.last = h
	w.mu.Unlock()
}
