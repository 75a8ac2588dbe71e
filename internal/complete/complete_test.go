package complete

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/skohara/lanekeeper/internal/backlog"
	"github.com/skohara/lanekeeper/internal/event"
	"github.com/skohara/lanekeeper/internal/lock"
	"github.com/skohara/lanekeeper/internal/merge"
	"github.com/skohara/lanekeeper/internal/model"
)

const (
	wuA = "wu_1771722000_a3f2b7c1"
	wuB = "wu_1771722060_b7c1d4e9"
)

type fakeRemote struct {
	fetchErr error
	content  string
}

func (f *fakeRemote) Fetch(remote, branch string) error { return f.fetchErr }
func (f *fakeRemote) ShowFile(ref, relPath string) ([]byte, error) {
	return []byte(f.content), nil
}

func line(typ model.EventType, wuID, ts string) string {
	return fmt.Sprintf(`{"type":%q,"wu_id":%q,"timestamp":%q,"lane":"auth","title":"Sample work"}`, typ, wuID, ts)
}

func newCompleter(t *testing.T, remote *fakeRemote, localLines ...string) (*Completer, model.Layout) {
	t.Helper()
	root := t.TempDir()
	cfg := model.DefaultConfig("test")
	layout := cfg.Layout(root)
	if err := os.MkdirAll(layout.StateDir, 0755); err != nil {
		t.Fatal(err)
	}
	if len(localLines) > 0 {
		content := strings.Join(localLines, "\n") + "\n"
		if err := os.WriteFile(layout.EventsLog, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	store := event.NewStore(layout.EventsLog, lock.NewMutexMap(), nil)
	merger := merge.NewMerger(store, remote, "origin", "main", cfg.RelEventsLog(), nil)
	return NewCompleter(store, merger, layout, nil), layout
}

func TestComplete_AppendsEventAndRegeneratesArtifacts(t *testing.T) {
	c, layout := newCompleter(t, &fakeRemote{},
		line(model.EventCreated, wuA, "2026-02-22T10:00:00Z"),
		line(model.EventClaim, wuA, "2026-02-22T10:05:00Z"),
	)

	res, err := c.Complete(wuA)
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if res.AlreadyDone || res.Failed() {
		t.Fatalf("Complete() = %+v", res)
	}
	if len(res.Files) != 3 {
		t.Fatalf("wrote %d files, want 3 (log, backlog, status): %+v", len(res.Files), res.Files)
	}

	// The appended completion must be durable and re-projectable.
	store := event.NewStore(layout.EventsLog, lock.NewMutexMap(), nil)
	events, _, err := store.LoadEvents()
	if err != nil {
		t.Fatal(err)
	}
	states := event.Project(events)
	if st := states[wuA]; st == nil || st.Status != model.StatusDone {
		t.Fatalf("projected state = %+v, want done", states[wuA])
	}

	content, err := os.ReadFile(layout.BacklogFile)
	if err != nil {
		t.Fatal(err)
	}
	doc := backlog.Parse(string(content))
	if got := doc.SectionsFor(wuA); len(got) != 1 || got[0] != backlog.SectionDone {
		t.Errorf("backlog sections for %s = %v, want [Done]", wuA, got)
	}
	if _, err := os.Stat(layout.StatusFile); err != nil {
		t.Errorf("status file not written: %v", err)
	}
}

func TestComplete_AlreadyDoneIsNoOp(t *testing.T) {
	c, layout := newCompleter(t, &fakeRemote{},
		line(model.EventClaim, wuA, "2026-02-22T10:05:00Z"),
		line(model.EventComplete, wuA, "2026-02-22T11:00:00Z"),
	)
	before, err := os.ReadFile(layout.EventsLog)
	if err != nil {
		t.Fatal(err)
	}

	res, err := c.Complete(wuA)
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if !res.AlreadyDone || len(res.Files) != 0 {
		t.Fatalf("Complete() = %+v, want already-done no-op", res)
	}
	after, err := os.ReadFile(layout.EventsLog)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("no-op completion mutated the event log")
	}
}

func TestComplete_RemoteCompletionWins(t *testing.T) {
	// The local log never observed the completion recorded on main.
	remote := &fakeRemote{content: line(model.EventClaim, wuA, "2026-02-22T10:05:00Z") + "\n" +
		line(model.EventComplete, wuA, "2026-02-22T11:00:00Z") + "\n"}
	c, _ := newCompleter(t, remote,
		line(model.EventClaim, wuA, "2026-02-22T10:05:00Z"),
	)

	res, err := c.Complete(wuA)
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if !res.AlreadyDone {
		t.Fatalf("Complete() = %+v, want no-op against merged view", res)
	}
}

func TestComplete_NotInProgressIsError(t *testing.T) {
	c, _ := newCompleter(t, &fakeRemote{},
		line(model.EventCreated, wuA, "2026-02-22T10:00:00Z"),
	)

	if _, err := c.Complete(wuA); err == nil {
		t.Fatal("Complete() of a ready WU should error, not coerce")
	}
	if _, err := c.Complete(wuB); err == nil {
		t.Fatal("Complete() of an unknown WU should error")
	}
}

func TestComplete_StaleViewRecordedOnFetchFailure(t *testing.T) {
	remote := &fakeRemote{fetchErr: fmt.Errorf("network unreachable")}
	c, _ := newCompleter(t, remote,
		line(model.EventClaim, wuA, "2026-02-22T10:05:00Z"),
	)

	res, err := c.Complete(wuA)
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if !res.Stale || res.StaleReason == "" {
		t.Fatalf("Complete() = %+v, want recorded stale view", res)
	}
	if res.Failed() {
		t.Fatalf("fail-open completion should still write: %+v", res.Files)
	}
}

func TestFileWrite_PartialFailureReportedPerFile(t *testing.T) {
	c, layout := newCompleter(t, &fakeRemote{},
		line(model.EventClaim, wuA, "2026-02-22T10:05:00Z"),
	)
	// Make the status file unwritable by occupying its path with a dir.
	if err := os.MkdirAll(layout.StatusFile, 0755); err != nil {
		t.Fatal(err)
	}

	res, err := c.Complete(wuA)
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if !res.Failed() {
		t.Fatal("expected a per-file failure")
	}
	var logOK, statusFailed bool
	for _, f := range res.Files {
		if f.Path == layout.EventsLog && f.OK() {
			logOK = true
		}
		if f.Path == layout.StatusFile && !f.OK() {
			statusFailed = true
		}
	}
	if !logOK || !statusFailed {
		t.Fatalf("files = %+v, want log success and status failure", res.Files)
	}
}
