// Package consistency classifies divergences between the four views of a
// work unit's truth: its YAML spec status, its done stamp, the backlog
// section its bullet sits under, and whether a lane worktree still exists.
// Each divergence becomes one typed error; a single WU can surface several
// at once. Detection is read-only; the repair engine acts on the report.
package consistency

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/skohara/lanekeeper/internal/backlog"
	"github.com/skohara/lanekeeper/internal/model"
	lkyaml "github.com/skohara/lanekeeper/internal/yaml"
)

// Code identifies one kind of inconsistency. The set is closed here but
// reports written by newer versions may carry codes this version does not
// know; consumers must skip those, never crash.
type Code string

const (
	// Spec says done but no done stamp exists.
	CodeSpecDoneStampMissing Code = "spec_done_stamp_missing"
	// Spec says done but the backlog still lists the WU under In Progress.
	CodeSpecDoneBacklogStale Code = "spec_done_backlog_stale"
	// A done stamp exists, the event log agrees the WU is done, but the
	// spec was never flipped to done.
	CodeStampWithoutSpecDone Code = "stamp_without_spec_done"
	// A done stamp exists with no supporting evidence: neither the spec
	// nor the event log says done. The stamp is stale.
	CodeStaleStamp Code = "stale_stamp"
	// The backlog lists the same WU bullet in two sections.
	CodeDuplicateBacklogEntry Code = "duplicate_backlog_entry"
	// A lane worktree still exists although the WU is done.
	CodeWorktreeOrphaned Code = "worktree_orphaned"
	// The WU is claimed but its worktree is gone. Not auto-repairable:
	// deciding between reset and resume needs human judgement.
	CodeWorktreeMissing Code = "worktree_missing"
	// The spec file is not parseable YAML (or fails schema validation).
	CodeSpecUnparseable Code = "spec_unparseable"
)

// Error is one detected divergence.
type Error struct {
	Code          Code
	WUID          string
	CanAutoRepair bool
	Lane          string
	Title         string
	// Section is the backlog section a repair should remove the bullet
	// from, for backlog-domain codes.
	Section string
	// SpecPath is the offending file for spec-domain codes.
	SpecPath string
	Detail   string
}

// Report is the detector's output, consumed by the repair engine.
type Report struct {
	Valid  bool
	Errors []Error
	// SpecsScanned counts WU spec files considered, for diagnostics.
	SpecsScanned int
}

// Paths names every filesystem input the detector reads. All absolute;
// no ambient roots.
type Paths struct {
	SpecsDir    string
	StampsDir   string
	BacklogFile string
}

// WorktreeIndex answers whether a live lane worktree exists for a WU.
// The worktree scanner implements it; tests fake it.
type WorktreeIndex interface {
	HasWorktree(wuID string) (bool, error)
}

type Detector struct {
	paths     Paths
	worktrees WorktreeIndex
	// states is the event-derived projection, used to arbitrate between
	// "flip the spec to done" and "remove the stale stamp" when stamp
	// and spec disagree. May be nil when no log is available.
	states map[string]*model.WUState
	logger *log.Logger
}

func NewDetector(paths Paths, worktrees WorktreeIndex, states map[string]*model.WUState, logger *log.Logger) *Detector {
	return &Detector{paths: paths, worktrees: worktrees, states: states, logger: logger}
}

// DetectAll scans every WU spec and cross-checks all four truth sources.
func (d *Detector) DetectAll() (*Report, error) {
	report := &Report{}

	doc, err := d.loadBacklog()
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(d.paths.SpecsDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read specs dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".bak") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		report.SpecsScanned++
		wuID := strings.TrimSuffix(name, ".yaml")
		specPath := filepath.Join(d.paths.SpecsDir, name)

		spec, err := d.loadSpec(specPath)
		if err != nil {
			d.logf("warn: spec %s unparseable: %v", name, err)
			report.Errors = append(report.Errors, Error{
				Code:          CodeSpecUnparseable,
				WUID:          wuID,
				CanAutoRepair: true,
				SpecPath:      specPath,
				Detail:        err.Error(),
			})
			continue
		}

		errs, err := d.detectWU(spec, specPath, doc)
		if err != nil {
			return nil, err
		}
		report.Errors = append(report.Errors, errs...)
	}

	report.Valid = len(report.Errors) == 0
	return report, nil
}

// DetectWU checks a single spec file against the other truth sources.
func (d *Detector) DetectWU(wuID string) ([]Error, error) {
	doc, err := d.loadBacklog()
	if err != nil {
		return nil, err
	}
	specPath := filepath.Join(d.paths.SpecsDir, wuID+".yaml")
	spec, err := d.loadSpec(specPath)
	if err != nil {
		return []Error{{
			Code:          CodeSpecUnparseable,
			WUID:          wuID,
			CanAutoRepair: true,
			SpecPath:      specPath,
			Detail:        err.Error(),
		}}, nil
	}
	return d.detectWU(spec, specPath, doc)
}

func (d *Detector) detectWU(spec *model.WUSpec, specPath string, doc *backlog.Doc) ([]Error, error) {
	var errs []Error

	base := Error{
		WUID:     spec.ID,
		Lane:     spec.Lane,
		Title:    spec.Title,
		SpecPath: specPath,
	}

	stamped := HasStamp(d.paths.StampsDir, spec.ID)
	sections := doc.SectionsFor(spec.ID)

	if spec.Status == model.StatusDone && !stamped {
		e := base
		e.Code = CodeSpecDoneStampMissing
		e.CanAutoRepair = true
		e.Detail = "spec status is done but no done stamp exists"
		errs = append(errs, e)
	}

	if spec.Status == model.StatusDone && contains(sections, backlog.SectionInProgress) {
		e := base
		e.Code = CodeSpecDoneBacklogStale
		e.CanAutoRepair = true
		e.Section = backlog.SectionInProgress
		e.Detail = "spec status is done but the backlog still lists the WU as in progress"
		errs = append(errs, e)
	}

	if stamped && spec.Status != model.StatusDone {
		e := base
		e.CanAutoRepair = true
		if st := d.states[spec.ID]; st != nil && st.Status == model.StatusDone {
			e.Code = CodeStampWithoutSpecDone
			e.Detail = fmt.Sprintf("event log says done but spec status is %q", spec.Status)
		} else {
			e.Code = CodeStaleStamp
			e.Detail = fmt.Sprintf("done stamp exists but neither spec (%q) nor event log says done", spec.Status)
		}
		errs = append(errs, e)
	}

	if len(sections) > 1 {
		expected := backlog.SectionFor(spec.Status)
		for _, section := range sections {
			if section == expected {
				continue
			}
			e := base
			e.Code = CodeDuplicateBacklogEntry
			e.CanAutoRepair = true
			e.Section = section
			e.Detail = fmt.Sprintf("bullet listed in %d sections; %q does not match spec status", len(sections), section)
			errs = append(errs, e)
			break
		}
	}

	hasWorktree, err := d.worktrees.HasWorktree(spec.ID)
	if err != nil {
		return nil, fmt.Errorf("worktree lookup for %s: %w", spec.ID, err)
	}

	if hasWorktree && spec.Status == model.StatusDone {
		e := base
		e.Code = CodeWorktreeOrphaned
		e.CanAutoRepair = true
		e.Detail = "lane worktree still exists although the WU is done"
		errs = append(errs, e)
	}

	if !hasWorktree && spec.Status == model.StatusInProgress {
		e := base
		e.Code = CodeWorktreeMissing
		e.CanAutoRepair = false
		e.Detail = "WU is claimed but its lane worktree is gone"
		errs = append(errs, e)
	}

	return errs, nil
}

func (d *Detector) loadSpec(path string) (*model.WUSpec, error) {
	if err := lkyaml.ValidateSchemaHeader(path, model.WUSpecFileType); err != nil {
		return nil, err
	}
	var spec model.WUSpec
	if err := lkyaml.Load(path, &spec); err != nil {
		return nil, err
	}
	if spec.ID == "" {
		return nil, fmt.Errorf("spec missing id")
	}
	if !model.IsValidStatus(spec.Status) {
		return nil, fmt.Errorf("unknown spec status %q", spec.Status)
	}
	return &spec, nil
}

func (d *Detector) loadBacklog() (*backlog.Doc, error) {
	content, err := os.ReadFile(d.paths.BacklogFile)
	if err != nil {
		if os.IsNotExist(err) {
			return backlog.Parse(""), nil
		}
		return nil, fmt.Errorf("read backlog: %w", err)
	}
	return backlog.Parse(string(content)), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (d *Detector) logf(format string, args ...any) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
	}
}
