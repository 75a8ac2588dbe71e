// Package recovery classifies a snapshot of where an agent is and what
// its work unit looks like into named issues with concrete next commands.
// Analysis is pure: no I/O, no mutation, safe to call speculatively.
package recovery

import "github.com/skohara/lanekeeper/internal/model"

// IssueCode names one recognized stuck situation.
type IssueCode string

const (
	// The worktree was created but the claim never landed: the WU still
	// reads ready.
	IssuePartialClaim IssueCode = "partial_claim"
	// The WU is claimed but its worktree is gone.
	IssueOrphanClaim IssueCode = "orphan_claim"
	// The WU finished but its worktree was never cleaned up.
	IssueLeftoverWorktree IssueCode = "leftover_worktree"
)

type Issue struct {
	Code    IssueCode
	WUID    string
	Message string
}

// Action is a suggested, idempotent recovery step. Command is a literal
// string the consumer can present or run verbatim.
type Action struct {
	Name    string
	Command string
}

// Analysis is the classifier's output for one context snapshot.
type Analysis struct {
	HasIssues bool
	Issues    []Issue
	Actions   []Action
}

// LocationContext describes where the caller currently sits.
type LocationContext struct {
	Cwd        string
	InWorktree bool
}

// GitContext is the git view of the WU's worktree at snapshot time.
type GitContext struct {
	WorktreeExists bool
	WorktreePath   string
	Branch         string
}

// WUContext is the event-projected view of the WU. Nil WU means no work
// unit is associated with the snapshot.
type WUContext struct {
	ID     string
	Status model.Status
}

// SessionContext carries agent-session facts for future classifications;
// the current rules do not consume it.
type SessionContext struct {
	Agent  string
	Active bool
}

// Context is the full snapshot supplied by the caller. The analyzer never
// gathers any of this itself.
type Context struct {
	Location LocationContext
	Git      GitContext
	WU       *WUContext
	Session  SessionContext
}

// Analyze maps a context snapshot to zero or more issues and matching
// actions. A healthy in-progress WU with a live worktree, or a snapshot
// with no WU at all, yields no issues.
func Analyze(ctx Context) Analysis {
	var a Analysis
	if ctx.WU == nil {
		return a
	}

	switch {
	case ctx.Git.WorktreeExists && ctx.WU.Status == model.StatusReady:
		a.Issues = append(a.Issues, Issue{
			Code:    IssuePartialClaim,
			WUID:    ctx.WU.ID,
			Message: "worktree exists but the WU was never claimed; the claim likely failed partway",
		})
		a.Actions = append(a.Actions, Action{
			Name:    "resume",
			Command: "lanekeeper wu recover " + ctx.WU.ID + " --action resume",
		})

	case !ctx.Git.WorktreeExists && ctx.WU.Status == model.StatusInProgress:
		a.Issues = append(a.Issues, Issue{
			Code:    IssueOrphanClaim,
			WUID:    ctx.WU.ID,
			Message: "WU is claimed but its worktree is gone",
		})
		a.Actions = append(a.Actions, Action{
			Name:    "reset",
			Command: "lanekeeper wu recover " + ctx.WU.ID + " --action reset",
		})

	case ctx.Git.WorktreeExists && ctx.WU.Status == model.StatusDone:
		a.Issues = append(a.Issues, Issue{
			Code:    IssueLeftoverWorktree,
			WUID:    ctx.WU.ID,
			Message: "WU is done but its worktree was never removed",
		})
		a.Actions = append(a.Actions, Action{
			Name:    "cleanup",
			Command: "lanekeeper wu recover " + ctx.WU.ID + " --action cleanup",
		})
	}

	a.HasIssues = len(a.Issues) > 0
	return a
}
