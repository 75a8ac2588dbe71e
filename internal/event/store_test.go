package event

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/skohara/lanekeeper/internal/lock"
	"github.com/skohara/lanekeeper/internal/model"
)

const (
	wuA = "wu_1771722000_a3f2b7c1"
	wuB = "wu_1771722060_b7c1d4e9"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return NewStore(filepath.Join(dir, "events.ndjson"), lock.NewMutexMap(), nil)
}

func writeLog(t *testing.T, s *Store, lines ...string) {
	t.Helper()
	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(s.LogPath(), []byte(content), 0644); err != nil {
		t.Fatalf("write log: %v", err)
	}
}

func TestLoadEvents_MissingFile(t *testing.T) {
	s := newTestStore(t)
	events, skipped, err := s.LoadEvents()
	if err != nil {
		t.Fatalf("LoadEvents: %v", err)
	}
	if len(events) != 0 || skipped != 0 {
		t.Errorf("expected empty result, got %d events %d skipped", len(events), skipped)
	}
}

func TestLoadEvents_SkipsMalformedLines(t *testing.T) {
	s := newTestStore(t)
	writeLog(t, s,
		`{{{not json`,
		`{"type":"claim","wu_id":"`+wuA+`","timestamp":"2026-02-22T10:00:00Z"}`,
	)

	events, skipped, err := s.LoadEvents()
	if err != nil {
		t.Fatalf("LoadEvents: %v", err)
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
	if len(events) != 1 || events[0].WUID != wuA {
		t.Fatalf("events = %+v", events)
	}

	// The projection reflects only the valid event.
	states := Project(events)
	if states[wuA] == nil || states[wuA].Status != model.StatusInProgress {
		t.Errorf("projection = %+v", states[wuA])
	}
}

func TestLoadEvents_SurvivesOversizedLine(t *testing.T) {
	s := newTestStore(t)
	// A single garbage line far larger than any read buffer must not
	// abort the scan; the valid completion after it still loads.
	writeLog(t, s,
		`{"junk":"`+strings.Repeat("x", 2*1024*1024)+`"}`,
		`{"type":"complete","wu_id":"`+wuA+`","timestamp":"2026-02-22T10:00:00Z"}`,
	)

	events, skipped, err := s.LoadEvents()
	if err != nil {
		t.Fatalf("LoadEvents: %v", err)
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
	if len(events) != 1 || events[0].Type != model.EventComplete {
		t.Fatalf("events = %d, want the completion", len(events))
	}
	states := Project(events)
	if states[wuA] == nil || states[wuA].Status != model.StatusDone {
		t.Errorf("projection = %+v", states[wuA])
	}
}

func TestAppendAndReload(t *testing.T) {
	s := newTestStore(t)
	e := model.WUEvent{
		Type:      model.EventClaim,
		WUID:      wuA,
		Timestamp: "2026-02-22T10:00:00Z",
		Agent:     "impl-1",
		Lane:      "auth",
	}
	if err := s.Append(e); err != nil {
		t.Fatalf("Append: %v", err)
	}

	events, skipped, err := s.LoadEvents()
	if err != nil || skipped != 0 {
		t.Fatalf("LoadEvents: %v skipped=%d", err, skipped)
	}
	if len(events) != 1 || events[0].Key() != e.Key() {
		t.Fatalf("events = %+v", events)
	}
}

func TestAppend_RejectsInvalidEvent(t *testing.T) {
	s := newTestStore(t)
	err := s.Append(model.WUEvent{Type: model.EventClaim, WUID: "bad-id", Timestamp: "2026-02-22T10:00:00Z"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if _, statErr := os.Stat(s.LogPath()); !os.IsNotExist(statErr) {
		t.Error("invalid event must not touch the log")
	}
}

func TestApply_Transitions(t *testing.T) {
	ts := func(sec string) string { return "2026-02-22T10:00:" + sec + "Z" }

	var st *model.WUState
	apply := func(typ model.EventType, stamp string) {
		next := Apply(st, model.WUEvent{Type: typ, WUID: wuA, Timestamp: stamp, Lane: "auth"})
		st = &next
	}

	apply(model.EventCreated, ts("00"))
	if st.Status != model.StatusReady {
		t.Fatalf("after created: %q", st.Status)
	}
	apply(model.EventClaim, ts("01"))
	if st.Status != model.StatusInProgress {
		t.Fatalf("after claim: %q", st.Status)
	}
	apply(model.EventRelease, ts("02"))
	if st.Status != model.StatusReady {
		t.Fatalf("after release: %q", st.Status)
	}
	apply(model.EventClaim, ts("03"))
	apply(model.EventComplete, ts("04"))
	if st.Status != model.StatusDone {
		t.Fatalf("after complete: %q", st.Status)
	}
	if st.Lane != "auth" {
		t.Errorf("lane = %q", st.Lane)
	}
	if st.LastEventTimestamp != ts("04") {
		t.Errorf("last timestamp = %q", st.LastEventTimestamp)
	}
}

func TestApply_IdempotentUnderReplay(t *testing.T) {
	e := model.WUEvent{Type: model.EventComplete, WUID: wuA, Timestamp: "2026-02-22T10:00:00Z"}
	once := Apply(nil, e)
	twice := Apply(&once, e)
	if once != twice {
		t.Errorf("replaying the same event changed state: %+v vs %+v", once, twice)
	}
}

func TestApply_DoneIsTerminal(t *testing.T) {
	done := Apply(nil, model.WUEvent{Type: model.EventComplete, WUID: wuA, Timestamp: "2026-02-22T10:00:00Z"})

	reclaimed := Apply(&done, model.WUEvent{Type: model.EventClaim, WUID: wuA, Timestamp: "2026-02-22T10:01:00Z", Agent: "impl-2"})
	if reclaimed.Status != model.StatusDone || reclaimed.Agent != "" {
		t.Errorf("claim after done: %+v", reclaimed)
	}
	released := Apply(&done, model.WUEvent{Type: model.EventRelease, WUID: wuA, Timestamp: "2026-02-22T10:01:00Z"})
	if released.Status != model.StatusDone {
		t.Errorf("release after done: %+v", released)
	}
	// The activity timestamp still moves.
	if reclaimed.LastEventTimestamp != "2026-02-22T10:01:00Z" {
		t.Errorf("last timestamp = %q", reclaimed.LastEventTimestamp)
	}
}

func TestNewCreatedEvent(t *testing.T) {
	e, err := NewCreatedEvent("auth", "Add login flow")
	if err != nil {
		t.Fatalf("NewCreatedEvent: %v", err)
	}
	if !model.ValidateWUID(e.WUID) {
		t.Errorf("minted id %q is not a valid WU ID", e.WUID)
	}
	if e.Type != model.EventCreated || e.Lane != "auth" || e.Title != "Add login flow" {
		t.Errorf("event = %+v", e)
	}
	if err := e.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestApply_UnknownTypeMovesTimestampOnly(t *testing.T) {
	claimed := Apply(nil, model.WUEvent{Type: model.EventClaim, WUID: wuA, Timestamp: "2026-02-22T10:00:00Z"})
	next := Apply(&claimed, model.WUEvent{Type: "escalated", WUID: wuA, Timestamp: "2026-02-22T10:00:05Z"})
	if next.Status != model.StatusInProgress {
		t.Errorf("unknown event changed status to %q", next.Status)
	}
	if next.LastEventTimestamp != "2026-02-22T10:00:05Z" {
		t.Errorf("last timestamp = %q", next.LastEventTimestamp)
	}
}

func TestNewCompleteEvent(t *testing.T) {
	s := newTestStore(t)
	writeLog(t, s,
		`{"type":"claim","wu_id":"`+wuA+`","timestamp":"2026-02-22T10:00:00Z","agent":"impl-1","lane":"auth"}`,
	)

	e, err := s.NewCompleteEvent(wuA)
	if err != nil {
		t.Fatalf("NewCompleteEvent: %v", err)
	}
	if e.Type != model.EventComplete || e.WUID != wuA || e.Lane != "auth" {
		t.Errorf("event = %+v", e)
	}
}

func TestNewCompleteEvent_UnknownWU(t *testing.T) {
	s := newTestStore(t)
	_, err := s.NewCompleteEvent(wuB)
	if !errors.Is(err, ErrUnknownWU) {
		t.Errorf("err = %v, want ErrUnknownWU", err)
	}
}

func TestNewCompleteEvent_WrongStatus(t *testing.T) {
	s := newTestStore(t)
	writeLog(t, s,
		`{"type":"claim","wu_id":"`+wuA+`","timestamp":"2026-02-22T10:00:00Z"}`,
		`{"type":"complete","wu_id":"`+wuA+`","timestamp":"2026-02-22T10:01:00Z"}`,
	)

	_, err := s.NewCompleteEvent(wuA)
	if !errors.Is(err, ErrUnexpectedStatus) {
		t.Errorf("err = %v, want ErrUnexpectedStatus", err)
	}
}
