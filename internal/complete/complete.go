// Package complete implements the "complete work" operation: merge the
// local event log with the remote view, append a completion event, and
// regenerate the derived backlog artifacts.
package complete

import (
	"log"
	"time"

	"github.com/skohara/lanekeeper/internal/backlog"
	"github.com/skohara/lanekeeper/internal/event"
	"github.com/skohara/lanekeeper/internal/merge"
	"github.com/skohara/lanekeeper/internal/model"
	lkyaml "github.com/skohara/lanekeeper/internal/yaml"
)

// FileWrite records one file in the write set. A partially failed set is
// reported per file, never declared whole.
type FileWrite struct {
	Path string
	Err  string
}

func (f FileWrite) OK() bool { return f.Err == "" }

// Result is the outcome of one completion attempt.
type Result struct {
	WUID string
	// AlreadyDone means the merged view showed the WU completed; the
	// operation was an idempotent no-op.
	AlreadyDone bool
	// Stale means the remote log could not be read and the decision was
	// made on local-only data.
	Stale       bool
	StaleReason string
	Event       model.WUEvent
	Files       []FileWrite
}

// Failed reports whether any write in the set failed.
func (r *Result) Failed() bool {
	for _, f := range r.Files {
		if !f.OK() {
			return true
		}
	}
	return false
}

type Completer struct {
	store  *event.Store
	merger *merge.Merger
	layout model.Layout
	logger *log.Logger
}

func NewCompleter(store *event.Store, merger *merge.Merger, layout model.Layout, logger *log.Logger) *Completer {
	return &Completer{store: store, merger: merger, layout: layout, logger: logger}
}

// Complete validates the completion against the merged projection, then
// performs the write set: event log append first, then the derived
// BACKLOG.md and STATUS.md. Validation happens before any write; if the
// log append fails the derived files are left untouched. A WU already done
// in the merged view is a no-op. Any other status than in_progress is an
// error surfaced to the caller, never coerced.
func (c *Completer) Complete(wuID string) (*Result, error) {
	view, err := c.merger.View()
	if err != nil {
		return nil, err
	}

	res := &Result{WUID: wuID, Stale: view.Stale, StaleReason: view.StaleReason}

	ev, ok, err := merge.Completion(view.States, wuID)
	if err != nil {
		return nil, err
	}
	if !ok {
		res.AlreadyDone = true
		c.logf("info: %s already done, completion is a no-op", wuID)
		return res, nil
	}
	res.Event = ev

	if err := c.store.Append(ev); err != nil {
		res.Files = append(res.Files, FileWrite{Path: c.store.LogPath(), Err: err.Error()})
		return res, nil
	}
	res.Files = append(res.Files, FileWrite{Path: c.store.LogPath()})

	// Re-project with the new event included so the derived files show
	// the post-completion state.
	next := event.Apply(view.States[wuID], ev)
	view.States[wuID] = &next

	res.Files = append(res.Files, c.writeText(c.layout.BacklogFile, backlog.Render(view.States)))
	res.Files = append(res.Files, c.writeText(c.layout.StatusFile, backlog.RenderStatus(view.States, time.Now().UTC())))
	return res, nil
}

func (c *Completer) writeText(path, content string) FileWrite {
	fw := FileWrite{Path: path}
	if err := lkyaml.AtomicWriteText(path, []byte(content)); err != nil {
		c.logf("warn: write %s: %v", path, err)
		fw.Err = err.Error()
	}
	return fw
}

func (c *Completer) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
