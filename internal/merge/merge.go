// Package merge deterministically combines two WU event logs (the local
// worktree's copy and the main branch's copy) into one canonical,
// deduplicated, chronologically ordered sequence, then re-projects it.
//
// Convergence relies on git as the replicated-log transport: there is no
// lock server and no consensus round. As long as the remote log is fetched
// before a merge, no completion recorded on main is ever lost.
package merge

import (
	"bytes"
	"log"
	"sort"
	"time"

	"github.com/skohara/lanekeeper/internal/event"
	"github.com/skohara/lanekeeper/internal/model"
)

// RemoteReader is the slice of git the merger needs: one fetch attempt and
// a snapshot read of a file at a ref.
type RemoteReader interface {
	Fetch(remote, branch string) error
	ShowFile(ref, relPath string) ([]byte, error)
}

type Merger struct {
	store      *event.Store
	git        RemoteReader
	remote     string
	mainBranch string
	relLogPath string // log path relative to the repo root, for `git show <ref>:<path>`
	logger     *log.Logger
}

func NewMerger(store *event.Store, git RemoteReader, remote, mainBranch, relLogPath string, logger *log.Logger) *Merger {
	return &Merger{
		store:      store,
		git:        git,
		remote:     remote,
		mainBranch: mainBranch,
		relLogPath: relLogPath,
		logger:     logger,
	}
}

// Merge combines a base (remote/main) log with a local log. Base events
// are inserted first so concurrent completions on main survive; local-only
// events follow; duplicates collapse on the (type, wuId, timestamp)
// identity key; the result is sorted chronologically, stable with respect
// to insertion order for equal timestamps.
func Merge(base, local []model.WUEvent) []model.WUEvent {
	seen := make(map[string]struct{}, len(base)+len(local))
	merged := make([]model.WUEvent, 0, len(base)+len(local))

	for _, lists := range [][]model.WUEvent{base, local} {
		for _, e := range lists {
			key := e.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, e)
		}
	}

	type stamped struct {
		e model.WUEvent
		t time.Time
	}
	ordered := make([]stamped, len(merged))
	for i, e := range merged {
		t, err := e.Time()
		if err != nil {
			// Validated events always parse; an unparseable timestamp
			// sorts at the epoch rather than aborting the merge.
			t = time.Time{}
		}
		ordered[i] = stamped{e: e, t: t}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].t.Before(ordered[j].t)
	})
	for i, s := range ordered {
		merged[i] = s.e
	}
	return merged
}

// RemoteLog is the outcome of one remote snapshot attempt.
type RemoteLog struct {
	Events  []model.WUEvent
	Skipped int
	// SkippedReason is non-empty when the fetch or snapshot read failed
	// and the merge degraded to local-only input. The caller holds a
	// possibly stale view; this is fail-open, not success.
	SkippedReason string
}

// LoadRemote fetches the main branch once and reads the event log as of
// the remote-tracking ref. Any failure degrades to an empty base log with
// the reason recorded; it never blocks or aborts the caller.
func (m *Merger) LoadRemote() RemoteLog {
	if err := m.git.Fetch(m.remote, m.mainBranch); err != nil {
		m.logf("warn: fetch %s/%s failed, merging local-only: %v", m.remote, m.mainBranch, err)
		return RemoteLog{SkippedReason: "fetch failed: " + err.Error()}
	}

	ref := m.remote + "/" + m.mainBranch
	content, err := m.git.ShowFile(ref, m.relLogPath)
	if err != nil {
		m.logf("warn: read %s:%s failed, merging local-only: %v", ref, m.relLogPath, err)
		return RemoteLog{SkippedReason: "remote log unreadable: " + err.Error()}
	}

	events, skipped := m.store.ParseLog(bytes.NewReader(content), ref+":"+m.relLogPath)
	return RemoteLog{Events: events, Skipped: skipped}
}

// View is a merged, re-projected snapshot of global WU state.
type View struct {
	Events []model.WUEvent
	States map[string]*model.WUState
	// Stale is set when the remote log could not be observed; consumers
	// that are correctness-sensitive must not treat the view as global
	// truth in that case.
	Stale        bool
	StaleReason  string
	SkippedLines int
}

// View loads the local log, attempts the remote snapshot, merges
// remote-first, and replays into a fresh projection.
func (m *Merger) View() (*View, error) {
	local, localSkipped, err := m.store.LoadEvents()
	if err != nil {
		return nil, err
	}

	remote := m.LoadRemote()
	merged := Merge(remote.Events, local)

	return &View{
		Events:       merged,
		States:       event.Project(merged),
		Stale:        remote.SkippedReason != "",
		StaleReason:  remote.SkippedReason,
		SkippedLines: localSkipped + remote.Skipped,
	}, nil
}

// Completion decides what completing wuID means against a merged
// projection: already done is an idempotent no-op (ok=false, nil error);
// in_progress yields the event to append; anything else is an explicit
// error, never silently corrected.
func Completion(states map[string]*model.WUState, wuID string) (model.WUEvent, bool, error) {
	st := states[wuID]
	if st != nil && st.Status == model.StatusDone {
		return model.WUEvent{}, false, nil
	}
	e, err := event.CompleteEventFromState(st, wuID)
	if err != nil {
		return model.WUEvent{}, false, err
	}
	return e, true, nil
}

func (m *Merger) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
