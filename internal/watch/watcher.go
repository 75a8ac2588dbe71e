// Package watch runs the maintenance daemon behind `lanekeeper watch`: it
// subscribes to filesystem changes on the event log and the WU spec dir,
// debounces bursts, rescans on a timer, and feeds every detector report
// into the repair engine when auto-repair is on.
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/skohara/lanekeeper/internal/consistency"
	"github.com/skohara/lanekeeper/internal/event"
	"github.com/skohara/lanekeeper/internal/lock"
	"github.com/skohara/lanekeeper/internal/model"
	"github.com/skohara/lanekeeper/internal/repair"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func parseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// WorktreeIndex is what each scan cycle needs from the worktree scanner.
type WorktreeIndex interface {
	HasWorktree(wuID string) (bool, error)
}

// Repairer applies a consistency report. The repair engine implements it.
type Repairer interface {
	Repair(report *consistency.Report, opts repair.Options) (*repair.Summary, error)
}

type Watcher struct {
	cfg       model.Config
	layout    model.Layout
	store     *event.Store
	worktrees WorktreeIndex
	repairer  Repairer
	// autoRepair feeds every failing report into the repair engine.
	autoRepair bool

	fileLock *lock.FileLock
	logLevel LogLevel
	logger   *log.Logger
	// scans coalesces the fsnotify and ticker triggers so overlapping
	// requests share one pass.
	scans singleflight.Group
}

func New(cfg model.Config, layout model.Layout, store *event.Store, worktrees WorktreeIndex, repairer Repairer, autoRepair bool, logger *log.Logger) *Watcher {
	return &Watcher{
		cfg:        cfg,
		layout:     layout,
		store:      store,
		worktrees:  worktrees,
		repairer:   repairer,
		autoRepair: autoRepair || cfg.Watcher.AutoRepair,
		fileLock:   lock.NewFileLock(filepath.Join(layout.StateDir, "locks", "watch.lock")),
		logLevel:   parseLogLevel(cfg.Logging.Level),
		logger:     logger,
	}
}

// Run blocks until ctx is cancelled. Only one watcher may run per state
// dir; a held lock is a startup error, not something to wait out.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(w.layout.StateDir, "locks"), 0755); err != nil {
		return fmt.Errorf("ensure locks dir: %w", err)
	}
	if err := w.fileLock.TryLock(); err != nil {
		return fmt.Errorf("watch lock: %w", err)
	}
	defer w.fileLock.Unlock()
	w.log(LogLevelInfo, "watcher starting pid=%d root=%s", os.Getpid(), w.layout.Root)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer func() { _ = fsw.Close() }()

	for _, dir := range []string{w.layout.StateDir, w.layout.SpecsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("ensure dir %s: %w", dir, err)
		}
		if err := fsw.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	// Initial scan so a dirty tree is reported before the first change.
	w.scan()
	w.log(LogLevelInfo, "watcher ready")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.eventLoop(ctx, fsw) })
	g.Go(func() error { return w.tickerLoop(ctx) })
	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	w.log(LogLevelInfo, "watcher stopped")
	return nil
}

// eventLoop debounces fsnotify bursts into single scans. A rename of the
// atomic-write temp file and the real write land within one debounce
// window and cost one scan.
func (w *Watcher) eventLoop(ctx context.Context, fsw *fsnotify.Watcher) error {
	debounce := time.Duration(w.cfg.Watcher.DebounceSec * float64(time.Second))
	if debounce <= 0 {
		debounce = time.Second
	}
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if strings.Contains(filepath.Base(ev.Name), ".lanekeeper-tmp-") {
				continue
			}
			w.log(LogLevelDebug, "fsnotify op=%s file=%s", ev.Op, ev.Name)
			timer.Reset(debounce)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log(LogLevelError, "fsnotify error=%v", err)
		case <-timer.C:
			w.scan()
		}
	}
}

func (w *Watcher) tickerLoop(ctx context.Context) error {
	interval := w.cfg.Watcher.ScanIntervalSec
	if interval <= 0 {
		interval = 60
	}
	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.log(LogLevelDebug, "periodic scan triggered")
			w.scan()
		}
	}
}

// scan replays the event log and runs a full detection pass. Failures are
// logged and the watcher keeps running; a broken scan must never kill the
// daemon.
func (w *Watcher) scan() {
	_, _, _ = w.scans.Do("scan", func() (any, error) {
		w.runScan()
		return nil, nil
	})
}

func (w *Watcher) runScan() {
	events, skipped, err := w.store.LoadEvents()
	if err != nil {
		w.log(LogLevelError, "scan: load events: %v", err)
		return
	}
	if skipped > 0 {
		w.log(LogLevelWarn, "scan: skipped %d malformed log lines", skipped)
	}
	states := event.Project(events)

	detector := consistency.NewDetector(consistency.Paths{
		SpecsDir:    w.layout.SpecsDir,
		StampsDir:   w.layout.StampsDir,
		BacklogFile: w.layout.BacklogFile,
	}, w.worktrees, states, w.logger)

	report, err := detector.DetectAll()
	if err != nil {
		w.log(LogLevelError, "scan: detect: %v", err)
		return
	}
	if report.Valid {
		w.log(LogLevelDebug, "scan: %d specs consistent", report.SpecsScanned)
		return
	}
	w.log(LogLevelWarn, "scan: %d inconsistencies across %d specs", len(report.Errors), report.SpecsScanned)

	if !w.autoRepair || w.repairer == nil {
		return
	}
	summary, err := w.repairer.Repair(report, repair.Options{ProjectRoot: w.layout.Root})
	if err != nil {
		w.log(LogLevelError, "scan: repair: %v", err)
		return
	}
	w.log(LogLevelInfo, "repair: repaired=%d skipped=%d failed=%d", summary.Repaired, summary.Skipped, summary.Failed)
}

func (w *Watcher) log(level LogLevel, format string, args ...any) {
	if level < w.logLevel || w.logger == nil {
		return
	}
	prefix := [...]string{"DEBUG", "INFO", "WARN", "ERROR"}[level]
	w.logger.Printf("[%s] %s %s", prefix, time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
}
