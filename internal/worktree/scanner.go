// Package worktree enumerates lane worktrees and reports which ones carry
// uncommitted work, so abandoned sessions surface for follow-up. Results
// are computed fresh on every call; git state can change between scans.
package worktree

import (
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/skohara/lanekeeper/internal/model"
)

// GitSource is the slice of git the scanner queries. The gitx client
// implements it.
type GitSource interface {
	WorktreeList() (string, error)
	StatusPorcelain(dir string) (string, error)
	LastCommitTime(dir string) (time.Time, error)
}

// Line grammar of `git worktree list`: path, short SHA, then either a
// bracketed branch or a parenthesized annotation like (detached HEAD).
var worktreeLineRe = regexp.MustCompile(`^(\S+)\s+([0-9a-f]+)\s+(?:\[([^\]]+)\]|\((.+)\))$`)

type Info struct {
	Path   string
	SHA    string
	Branch string
	IsMain bool
	// WUID is extracted from the branch name; empty for worktrees that
	// do not follow the lane naming convention.
	WUID string
}

// Status is the per-worktree activity report. A git failure while
// computing it lands in Err instead of aborting the scan.
type Status struct {
	HasUncommittedChanges bool
	UncommittedFileCount  int
	UncommittedFiles      []string
	LastActivity          time.Time
	Err                   string
}

type Entry struct {
	Info   Info
	Status Status
}

// Report aggregates one scan pass.
type Report struct {
	Worktrees             []Entry
	Total                 int
	WithUncommitted       int
	TotalUncommittedFiles int
}

type Scanner struct {
	git        GitSource
	mainBranch string
	logger     *log.Logger
}

func NewScanner(git GitSource, mainBranch string, logger *log.Logger) *Scanner {
	return &Scanner{git: git, mainBranch: mainBranch, logger: logger}
}

// List parses `git worktree list` into lane worktrees. The main worktree
// and worktrees without an extractable WU id are excluded.
func (s *Scanner) List() ([]Info, error) {
	raw, err := s.git.WorktreeList()
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}

	var infos []Info
	first := true
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// The first listed worktree is the primary checkout, parseable
		// or not; its slot must not shift onto a later lane worktree.
		isFirst := first
		first = false
		m := worktreeLineRe.FindStringSubmatch(line)
		if m == nil {
			s.logf("warn: unrecognized worktree list line: %q", line)
			continue
		}
		info := Info{Path: m[1], SHA: m[2], Branch: m[3]}
		info.IsMain = isFirst || info.Branch == s.mainBranch
		info.WUID = model.ExtractWUID(info.Branch)
		if info.IsMain || info.WUID == "" {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// StatusOf runs the two status queries for one worktree. Each failure is
// captured rather than returned so one broken worktree never hides the
// rest of a scan.
func (s *Scanner) StatusOf(info Info) Status {
	var st Status

	porcelain, err := s.git.StatusPorcelain(info.Path)
	if err != nil {
		st.Err = err.Error()
	} else {
		for _, line := range strings.Split(porcelain, "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			st.UncommittedFileCount++
			if len(line) > 3 {
				st.UncommittedFiles = append(st.UncommittedFiles, strings.TrimSpace(line[3:]))
			}
		}
		st.HasUncommittedChanges = st.UncommittedFileCount > 0
	}

	last, err := s.git.LastCommitTime(info.Path)
	if err != nil {
		if st.Err == "" {
			st.Err = err.Error()
		}
	} else {
		st.LastActivity = last
	}
	return st
}

// Scan lists lane worktrees and computes status for each, returning a
// complete result set even when individual worktrees fail.
func (s *Scanner) Scan() (*Report, error) {
	infos, err := s.List()
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })

	report := &Report{Total: len(infos)}
	for _, info := range infos {
		st := s.StatusOf(info)
		if st.HasUncommittedChanges {
			report.WithUncommitted++
			report.TotalUncommittedFiles += st.UncommittedFileCount
		}
		report.Worktrees = append(report.Worktrees, Entry{Info: info, Status: st})
	}
	return report, nil
}

// HasWorktree reports whether a live lane worktree exists for wuID. It
// satisfies the consistency detector's index interface.
func (s *Scanner) HasWorktree(wuID string) (bool, error) {
	_, ok, err := s.PathFor(wuID)
	return ok, err
}

// PathFor resolves the worktree path for wuID, for the repair engine.
func (s *Scanner) PathFor(wuID string) (string, bool, error) {
	infos, err := s.List()
	if err != nil {
		return "", false, err
	}
	for _, info := range infos {
		if info.WUID == wuID {
			return info.Path, true, nil
		}
	}
	return "", false, nil
}

func (s *Scanner) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
