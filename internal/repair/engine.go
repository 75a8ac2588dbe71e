// Package repair applies fixes for the divergences the consistency
// detector reports. Each error code maps to one strategy; codes without a
// strategy are skipped so reports written by newer versions never crash an
// older repair pass.
package repair

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/skohara/lanekeeper/internal/backlog"
	"github.com/skohara/lanekeeper/internal/consistency"
	"github.com/skohara/lanekeeper/internal/model"
	lkyaml "github.com/skohara/lanekeeper/internal/yaml"
)

// GitOps is the slice of git the engine needs: ephemeral worktree
// lifecycle. The gitx client implements it.
type GitOps interface {
	AddWorktree(path, ref string) error
	RemoveWorktree(path string, force bool) error
}

// WorktreeLocator resolves the on-disk worktree path for a WU, if one
// exists. The worktree scanner implements it.
type WorktreeLocator interface {
	PathFor(wuID string) (string, bool, error)
}

// Options selects repair execution mode.
type Options struct {
	// ProjectRoot runs file repairs directly against this root. When
	// empty, the engine creates a disposable worktree of the main branch
	// and repairs inside it, so a partial failure never leaves the
	// caller's checkout half-mutated.
	ProjectRoot string
	// DryRun counts what would be repaired without touching disk.
	DryRun bool
}

type OutcomeStatus string

const (
	StatusRepaired OutcomeStatus = "repaired"
	StatusSkipped  OutcomeStatus = "skipped"
	StatusFailed   OutcomeStatus = "failed"
)

// Outcome records what happened to one consistency error.
type Outcome struct {
	Code   consistency.Code
	WUID   string
	Status OutcomeStatus
	Reason string
	// Files lists paths a file-domain strategy touched.
	Files []string
}

// Summary aggregates a repair batch. One failing repair never aborts the
// batch; everything is counted.
type Summary struct {
	Repaired int
	Skipped  int
	Failed   int
	Outcomes []Outcome
}

type fileStrategy func(e consistency.Error, layout model.Layout) ([]string, error)

// gitStrategy pairs a metadata precheck with the repair itself. The
// precheck runs before the dry-run short circuit so a dry run reports
// the same skips a real run would.
type gitStrategy struct {
	skipReason func(e consistency.Error) string
	run        func(e consistency.Error) ([]string, error)
}

type Engine struct {
	cfg       model.Config
	git       GitOps
	worktrees WorktreeLocator
	logger    *log.Logger

	fileStrategies map[consistency.Code]fileStrategy
	gitStrategies  map[consistency.Code]gitStrategy
}

func NewEngine(cfg model.Config, git GitOps, worktrees WorktreeLocator, logger *log.Logger) *Engine {
	e := &Engine{cfg: cfg, git: git, worktrees: worktrees, logger: logger}
	e.fileStrategies = map[consistency.Code]fileStrategy{
		consistency.CodeSpecDoneStampMissing:  e.repairStampMissing,
		consistency.CodeSpecDoneBacklogStale:  e.repairBacklogSection,
		consistency.CodeDuplicateBacklogEntry: e.repairBacklogSection,
		consistency.CodeStampWithoutSpecDone:  e.repairSpecNotDone,
		consistency.CodeStaleStamp:            e.repairStaleStamp,
		consistency.CodeSpecUnparseable:       e.repairUnparseableSpec,
	}
	e.gitStrategies = map[consistency.Code]gitStrategy{
		consistency.CodeWorktreeOrphaned: {
			skipReason: laneRequired,
			run:        e.repairOrphanedWorktree,
		},
	}
	return e
}

// Repair applies a strategy per error and returns per-error outcomes.
// Errors with no registered strategy, or marked not auto-repairable, are
// skipped and counted, never fatal.
func (en *Engine) Repair(report *consistency.Report, opts Options) (*Summary, error) {
	summary := &Summary{}
	if report == nil || len(report.Errors) == 0 {
		return summary, nil
	}

	var layout model.Layout
	if !opts.DryRun {
		root := opts.ProjectRoot
		if root == "" {
			worktreePath, cleanup, err := en.ephemeralWorktree()
			if err != nil {
				return nil, err
			}
			defer cleanup()
			root = worktreePath
		}
		layout = en.cfg.Layout(root)
	}

	for _, cerr := range report.Errors {
		outcome := en.repairOne(cerr, layout, opts)
		switch outcome.Status {
		case StatusRepaired:
			summary.Repaired++
		case StatusSkipped:
			summary.Skipped++
		case StatusFailed:
			summary.Failed++
		}
		summary.Outcomes = append(summary.Outcomes, outcome)
	}
	return summary, nil
}

func (en *Engine) repairOne(cerr consistency.Error, layout model.Layout, opts Options) Outcome {
	out := Outcome{Code: cerr.Code, WUID: cerr.WUID}

	if !cerr.CanAutoRepair {
		out.Status = StatusSkipped
		out.Reason = "not auto-repairable"
		return out
	}

	if fs, ok := en.fileStrategies[cerr.Code]; ok {
		if opts.DryRun {
			out.Status = StatusRepaired
			return out
		}
		files, err := fs(cerr, layout)
		if err != nil {
			en.logf("warn: repair %s for %s failed: %v", cerr.Code, cerr.WUID, err)
			out.Status = StatusFailed
			out.Reason = err.Error()
			return out
		}
		out.Status = StatusRepaired
		out.Files = files
		return out
	}

	if gs, ok := en.gitStrategies[cerr.Code]; ok {
		if reason := gs.skipReason(cerr); reason != "" {
			out.Status = StatusSkipped
			out.Reason = reason
			return out
		}
		if opts.DryRun {
			out.Status = StatusRepaired
			return out
		}
		files, err := gs.run(cerr)
		if err != nil {
			en.logf("warn: repair %s for %s failed: %v", cerr.Code, cerr.WUID, err)
			out.Status = StatusFailed
			out.Reason = err.Error()
			return out
		}
		out.Status = StatusRepaired
		out.Files = files
		return out
	}

	out.Status = StatusSkipped
	out.Reason = fmt.Sprintf("no strategy registered for %q", cerr.Code)
	return out
}

// ephemeralWorktree checks out a disposable copy of the main branch for
// the batch and guarantees its removal on every exit path.
func (en *Engine) ephemeralWorktree() (string, func(), error) {
	name := "lanekeeper-repair-" + strings.Split(uuid.NewString(), "-")[0]
	path := filepath.Join(os.TempDir(), name)
	ref := en.cfg.Git.MainBranch
	if err := en.git.AddWorktree(path, ref); err != nil {
		return "", nil, fmt.Errorf("create repair worktree at %s: %w", path, err)
	}
	cleanup := func() {
		if err := en.git.RemoveWorktree(path, true); err != nil {
			en.logf("warn: remove repair worktree %s: %v", path, err)
		}
	}
	return path, cleanup, nil
}

func (en *Engine) repairStampMissing(cerr consistency.Error, layout model.Layout) ([]string, error) {
	if err := consistency.WriteStamp(layout.StampsDir, cerr.WUID); err != nil {
		return nil, err
	}
	return []string{consistency.StampPath(layout.StampsDir, cerr.WUID)}, nil
}

// repairBacklogSection removes the WU's bullet from the section the
// detector flagged. Already-removed bullets make this a no-op.
func (en *Engine) repairBacklogSection(cerr consistency.Error, layout model.Layout) ([]string, error) {
	if cerr.Section == "" {
		return nil, fmt.Errorf("no backlog section recorded on error")
	}
	content, err := os.ReadFile(layout.BacklogFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backlog: %w", err)
	}
	updated, changed := backlog.RemoveFromSection(string(content), cerr.WUID, cerr.Section)
	if !changed {
		return nil, nil
	}
	if err := lkyaml.AtomicWriteText(layout.BacklogFile, []byte(updated)); err != nil {
		return nil, err
	}
	return []string{layout.BacklogFile}, nil
}

// repairSpecNotDone flips the spec's status to done when the event log
// already recorded the completion.
func (en *Engine) repairSpecNotDone(cerr consistency.Error, layout model.Layout) ([]string, error) {
	specPath := filepath.Join(layout.SpecsDir, cerr.WUID+".yaml")
	var spec model.WUSpec
	if err := lkyaml.Load(specPath, &spec); err != nil {
		return nil, err
	}
	if spec.Status == model.StatusDone {
		return nil, nil
	}
	spec.Status = model.StatusDone
	spec.UpdatedAt = model.NowTimestamp()
	if err := lkyaml.AtomicWrite(specPath, &spec); err != nil {
		return nil, err
	}
	return []string{specPath}, nil
}

func (en *Engine) repairStaleStamp(cerr consistency.Error, layout model.Layout) ([]string, error) {
	path := consistency.StampPath(layout.StampsDir, cerr.WUID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	if err := consistency.RemoveStamp(layout.StampsDir, cerr.WUID); err != nil {
		return nil, err
	}
	return []string{path}, nil
}

// repairUnparseableSpec restores the spec from its .bak sibling when one
// exists and parses; only then does the corrupted file go to quarantine.
func (en *Engine) repairUnparseableSpec(cerr consistency.Error, layout model.Layout) ([]string, error) {
	specPath := filepath.Join(layout.SpecsDir, cerr.WUID+".yaml")
	if _, err := os.Stat(specPath); os.IsNotExist(err) {
		return nil, nil
	}
	if err := lkyaml.RestoreFromBackup(specPath); err == nil {
		var spec model.WUSpec
		if loadErr := lkyaml.Load(specPath, &spec); loadErr == nil {
			return []string{specPath}, nil
		}
	} else {
		en.logf("warn: no usable backup for %s: %v", specPath, err)
	}
	dest, err := lkyaml.Quarantine(layout.StateDir, specPath)
	if err != nil {
		return nil, err
	}
	return []string{dest}, nil
}

func laneRequired(cerr consistency.Error) string {
	if cerr.Lane == "" {
		return "lane unknown, cannot locate worktree"
	}
	return ""
}

func (en *Engine) repairOrphanedWorktree(cerr consistency.Error) ([]string, error) {
	path, ok, err := en.worktrees.PathFor(cerr.WUID)
	if err != nil {
		return nil, fmt.Errorf("locate worktree for %s: %w", cerr.WUID, err)
	}
	if !ok {
		// Already gone; idempotent no-op.
		return nil, nil
	}
	if err := en.git.RemoveWorktree(path, true); err != nil {
		return nil, err
	}
	return []string{path}, nil
}

func (en *Engine) logf(format string, args ...any) {
	if en.logger != nil {
		en.logger.Printf(format, args...)
	}
}
