// Package lifecycle implements WU creation and claiming: minting ids,
// seeding spec files, and attaching lane worktrees. Completion lives in
// the complete package because it needs the merged two-log view.
package lifecycle

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/skohara/lanekeeper/internal/event"
	"github.com/skohara/lanekeeper/internal/model"
	lkyaml "github.com/skohara/lanekeeper/internal/yaml"
)

// GitOps is the slice of git claiming needs. The gitx client implements it.
type GitOps interface {
	BranchExists(branch string) bool
	AddWorktreeBranch(path, branch, baseRef string, createBranch bool) error
}

type Manager struct {
	cfg    model.Config
	layout model.Layout
	store  *event.Store
	git    GitOps
	logger *log.Logger
}

func NewManager(cfg model.Config, layout model.Layout, store *event.Store, git GitOps, logger *log.Logger) *Manager {
	return &Manager{cfg: cfg, layout: layout, store: store, git: git, logger: logger}
}

// Create mints a fresh WU, appends its creation event, and seeds the spec
// file. The event is appended first: a crash between the two writes leaves
// a WU the detector can report, never a spec without a log record.
func (m *Manager) Create(lane, title string) (model.WUEvent, error) {
	if lane == "" {
		return model.WUEvent{}, fmt.Errorf("lane is required")
	}
	if title == "" {
		return model.WUEvent{}, fmt.Errorf("title is required")
	}

	ev, err := event.NewCreatedEvent(lane, title)
	if err != nil {
		return model.WUEvent{}, err
	}
	if err := m.store.Append(ev); err != nil {
		return model.WUEvent{}, err
	}

	spec := model.WUSpec{
		SchemaVersion: lkyaml.CurrentSchemaVersion,
		FileType:      model.WUSpecFileType,
		ID:            ev.WUID,
		Title:         title,
		Lane:          lane,
		Status:        model.StatusReady,
		CreatedAt:     ev.Timestamp,
		UpdatedAt:     ev.Timestamp,
	}
	if err := os.MkdirAll(m.layout.SpecsDir, 0755); err != nil {
		return model.WUEvent{}, fmt.Errorf("ensure specs dir: %w", err)
	}
	specPath := filepath.Join(m.layout.SpecsDir, ev.WUID+".yaml")
	if err := lkyaml.AtomicWrite(specPath, &spec); err != nil {
		return model.WUEvent{}, fmt.Errorf("write spec: %w", err)
	}
	return ev, nil
}

// ClaimResult reports what a claim attached and recorded.
type ClaimResult struct {
	Event        model.WUEvent
	Branch       string
	WorktreePath string
	// BranchReused is set when the lane branch already existed, typically
	// after a released claim is picked back up.
	BranchReused bool
}

// Claim moves a ready WU to in_progress: it checks out the lane branch in
// a sibling worktree and appends the claim event. The worktree comes first
// so a failed checkout never leaves the log claiming work nobody holds.
func (m *Manager) Claim(st *model.WUState, wuID, agent string) (*ClaimResult, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: %s", event.ErrUnknownWU, wuID)
	}
	if model.IsTerminal(st.Status) {
		return nil, fmt.Errorf("%w: %s is already done", event.ErrUnexpectedStatus, wuID)
	}
	if err := model.ValidateTransition(st.Status, model.StatusInProgress); err != nil {
		return nil, err
	}
	if st.Lane == "" {
		return nil, fmt.Errorf("no lane recorded for %s", wuID)
	}

	branch := m.cfg.LaneBranch(st.Lane, wuID)
	path := m.worktreePath(st.Lane, wuID)
	reused := m.git.BranchExists(branch)
	if err := m.git.AddWorktreeBranch(path, branch, m.cfg.Git.MainBranch, !reused); err != nil {
		return nil, fmt.Errorf("attach worktree for %s: %w", wuID, err)
	}

	ev := model.WUEvent{
		Type:      model.EventClaim,
		WUID:      wuID,
		Timestamp: model.NowTimestamp(),
		Agent:     agent,
		Lane:      st.Lane,
		Title:     st.Title,
	}
	if err := m.store.Append(ev); err != nil {
		return nil, err
	}
	return &ClaimResult{Event: ev, Branch: branch, WorktreePath: path, BranchReused: reused}, nil
}

// worktreePath places lane worktrees as siblings of the project root so
// they never nest inside the checkout the watcher observes.
func (m *Manager) worktreePath(lane, wuID string) string {
	name := filepath.Base(m.layout.Root) + "-" + lane + "-" + wuID
	return filepath.Join(filepath.Dir(m.layout.Root), name)
}
