// Package event implements the append-only WU event log: the durable,
// ordered record of lifecycle facts and the sole authority for deriving
// current work-unit state.
package event

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/skohara/lanekeeper/internal/lock"
	"github.com/skohara/lanekeeper/internal/model"
)

var (
	// ErrUnknownWU is returned when an operation names a WU with no
	// events in the log.
	ErrUnknownWU = errors.New("unknown work unit")

	// ErrUnexpectedStatus is returned when a completion is requested for
	// a WU that is not in_progress. Callers must surface this, never
	// coerce the status.
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// Store reads and appends the NDJSON event log. The log file is
// append-only; events are never rewritten in place.
type Store struct {
	logPath string
	locks   *lock.MutexMap
	logger  *log.Logger
}

func NewStore(logPath string, locks *lock.MutexMap, logger *log.Logger) *Store {
	return &Store{logPath: logPath, locks: locks, logger: logger}
}

// LogPath returns the absolute path of the backing log file.
func (s *Store) LogPath() string {
	return s.logPath
}

// LoadEvents reads the full log. Malformed lines (invalid JSON or failing
// schema validation) are skipped with a warning, never fatal: the log is
// crash-consistent but not upstream-trusted. The skipped count is returned
// for diagnostics. A missing log file yields an empty slice.
func (s *Store) LoadEvents() ([]model.WUEvent, int, error) {
	f, err := os.Open(s.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	events, skipped := s.ParseLog(f, filepath.Base(s.logPath))
	return events, skipped, nil
}

// ParseLog parses newline-delimited JSON events from r. source is only
// used in warnings. Partial trailing lines are tolerated. Reading is
// line-at-a-time with no upper bound on line length, so one oversized
// garbage line is skipped like any other bad line and the lines after
// it are still read.
func (s *Store) ParseLog(r io.Reader, source string) ([]model.WUEvent, int) {
	var events []model.WUEvent
	skipped := 0

	br := bufio.NewReaderSize(r, 64*1024)
	lineNo := 0
	for {
		raw, err := br.ReadBytes('\n')
		if len(raw) > 0 {
			lineNo++
			line := bytes.TrimSpace(raw)
			if len(line) > 0 {
				e, perr := model.ParseEvent(line)
				if perr != nil {
					skipped++
					s.logf("warn: %s line %d skipped: %v", source, lineNo, perr)
				} else {
					events = append(events, e)
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			// A truncated trailing line is treated like any other bad line.
			skipped++
			s.logf("warn: %s read stopped: %v", source, err)
			break
		}
	}
	return events, skipped
}

// Append validates e and writes it as one NDJSON line. The write is
// serialized per WU so two in-process callers cannot interleave lines.
func (s *Store) Append(e model.WUEvent) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("refusing to append invalid event: %w", err)
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if s.locks != nil {
		key := "log:" + e.WUID
		s.locks.Lock(key)
		defer s.locks.Unlock(key)
	}

	if err := os.MkdirAll(filepath.Dir(s.logPath), 0755); err != nil {
		return fmt.Errorf("ensure log dir: %w", err)
	}
	f, err := os.OpenFile(s.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return f.Sync()
}

// Apply folds one event into the current state (nil for a WU with no
// prior events) and returns the next state. It is pure and idempotent:
// applying the same event twice yields the same state. Claims and
// releases that the lifecycle table rejects (a done WU is terminal)
// move the activity timestamp but leave the status alone.
func Apply(cur *model.WUState, e model.WUEvent) model.WUState {
	next := model.WUState{ID: e.WUID}
	if cur != nil {
		next = *cur
	}

	switch e.Type {
	case model.EventCreated:
		if cur == nil || next.Status == "" {
			next.Status = model.StatusReady
		}
	case model.EventClaim:
		if next.Status == "" || model.ValidateTransition(next.Status, model.StatusInProgress) == nil {
			next.Status = model.StatusInProgress
			if e.Agent != "" {
				next.Agent = e.Agent
			}
		}
	case model.EventRelease:
		if next.Status == "" || model.ValidateTransition(next.Status, model.StatusReady) == nil {
			next.Status = model.StatusReady
			next.Agent = ""
		}
	case model.EventComplete:
		// A completion record is authoritative even when the claim
		// that preceded it was lost from the log.
		next.Status = model.StatusDone
	default:
		// Unknown event kinds (written by newer versions) carry no
		// transition this version understands; only the activity
		// timestamp moves.
	}

	if e.Lane != "" {
		next.Lane = e.Lane
	}
	if e.Title != "" {
		next.Title = e.Title
	}
	if e.Timestamp > next.LastEventTimestamp {
		next.LastEventTimestamp = e.Timestamp
	}
	return next
}

// Project replays an ordered event sequence into a fresh per-WU projection.
func Project(events []model.WUEvent) map[string]*model.WUState {
	states := make(map[string]*model.WUState)
	for _, e := range events {
		next := Apply(states[e.WUID], e)
		states[e.WUID] = &next
	}
	return states
}

// State loads the log and returns the projected state of one WU, or nil
// if the log has no events for it.
func (s *Store) State(wuID string) (*model.WUState, error) {
	events, _, err := s.LoadEvents()
	if err != nil {
		return nil, err
	}
	return Project(events)[wuID], nil
}

// NewCreatedEvent mints a fresh WU ID and builds its creation event.
func NewCreatedEvent(lane, title string) (model.WUEvent, error) {
	id, err := model.GenerateWUID()
	if err != nil {
		return model.WUEvent{}, fmt.Errorf("generate wu id: %w", err)
	}
	return model.WUEvent{
		Type:      model.EventCreated,
		WUID:      id,
		Timestamp: model.NowTimestamp(),
		Lane:      lane,
		Title:     title,
	}, nil
}

// NewCompleteEvent constructs a completion event for wuID. It is only
// valid when the projected status is in_progress; any other status is a
// caller error surfaced explicitly.
func (s *Store) NewCompleteEvent(wuID string) (model.WUEvent, error) {
	st, err := s.State(wuID)
	if err != nil {
		return model.WUEvent{}, err
	}
	return CompleteEventFromState(st, wuID)
}

// CompleteEventFromState builds a completion event from an already
// computed projection (the merge engine calls this with merged state).
func CompleteEventFromState(st *model.WUState, wuID string) (model.WUEvent, error) {
	if st == nil {
		return model.WUEvent{}, fmt.Errorf("%w: %s", ErrUnknownWU, wuID)
	}
	if st.Status != model.StatusInProgress {
		return model.WUEvent{}, fmt.Errorf("%w: %s is %q, want %q", ErrUnexpectedStatus, wuID, st.Status, model.StatusInProgress)
	}
	return model.WUEvent{
		Type:      model.EventComplete,
		WUID:      wuID,
		Timestamp: model.NowTimestamp(),
		Agent:     st.Agent,
		Lane:      st.Lane,
		Title:     st.Title,
	}, nil
}

func (s *Store) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
