// Package cli wires the lanekeeper commands. It is a thin layer: flag
// parsing, project resolution, and result rendering; all semantics live in
// the internal packages it composes.
package cli

import (
	"fmt"
	"log"
	"os"

	"github.com/fatih/color"

	"github.com/skohara/lanekeeper/internal/event"
	"github.com/skohara/lanekeeper/internal/gitx"
	"github.com/skohara/lanekeeper/internal/lock"
	"github.com/skohara/lanekeeper/internal/merge"
	"github.com/skohara/lanekeeper/internal/model"
	"github.com/skohara/lanekeeper/internal/repair"
	"github.com/skohara/lanekeeper/internal/setup"
	"github.com/skohara/lanekeeper/internal/worktree"
)

var (
	okMark   = color.New(color.FgGreen).Sprint("✓")
	warnMark = color.New(color.FgYellow).Sprint("⚠")
	failMark = color.New(color.FgRed).Sprint("✗")
)

// project bundles everything a command needs once the root is resolved.
type project struct {
	root    string
	cfg     model.Config
	layout  model.Layout
	logger  *log.Logger
	git     *gitx.Client
	store   *event.Store
	scanner *worktree.Scanner
	merger  *merge.Merger
	repairs *repair.Engine
}

// loadProject resolves the project root (explicit flag or upward search
// from the working directory) and builds the component graph.
func loadProject(explicitRoot string) (*project, error) {
	root := explicitRoot
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		root, err = setup.FindRoot(cwd)
		if err != nil {
			return nil, fmt.Errorf("%w (run `lanekeeper init` first)", err)
		}
	}

	cfg, err := setup.LoadConfig(root)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	layout := cfg.Layout(root)

	logger := log.New(os.Stderr, "", 0)
	git := gitx.NewClient(root, logger)
	store := event.NewStore(layout.EventsLog, lock.NewMutexMap(), logger)
	scanner := worktree.NewScanner(git, cfg.Git.MainBranch, logger)

	return &project{
		root:    root,
		cfg:     cfg,
		layout:  layout,
		logger:  logger,
		git:     git,
		store:   store,
		scanner: scanner,
		merger:  merge.NewMerger(store, git, cfg.Git.Remote, cfg.Git.MainBranch, cfg.RelEventsLog(), logger),
		repairs: repair.NewEngine(cfg, git, scanner, logger),
	}, nil
}

// states replays the local event log into the current projection.
func (p *project) states() (map[string]*model.WUState, error) {
	events, skipped, err := p.store.LoadEvents()
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		fmt.Fprintf(os.Stderr, "%s skipped %d malformed event log lines\n", warnMark, skipped)
	}
	return event.Project(events), nil
}
