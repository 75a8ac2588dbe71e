package cli

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/skohara/lanekeeper/internal/complete"
	"github.com/skohara/lanekeeper/internal/consistency"
	"github.com/skohara/lanekeeper/internal/lifecycle"
	"github.com/skohara/lanekeeper/internal/model"
	"github.com/skohara/lanekeeper/internal/recovery"
	"github.com/skohara/lanekeeper/internal/repair"
)

// WuCmd groups the work-unit operations.
func WuCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wu",
		Short: "Work-unit operations",
	}
	cmd.AddCommand(wuCreateCmd())
	cmd.AddCommand(wuClaimCmd())
	cmd.AddCommand(wuCompleteCmd())
	cmd.AddCommand(wuRepairCmd())
	cmd.AddCommand(wuRecoverCmd())
	cmd.AddCommand(wuPruneCmd())
	cmd.AddCommand(wuStatusCmd())
	return cmd
}

func wuCreateCmd() *cobra.Command {
	var (
		projectRoot string
		lane        string
		title       string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Mint a new work unit in a lane",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(projectRoot)
			if err != nil {
				return err
			}
			mgr := lifecycle.NewManager(p.cfg, p.layout, p.store, p.git, p.logger)
			ev, err := mgr.Create(lane, title)
			if err != nil {
				return err
			}
			fmt.Printf("%s created %s in lane %s\n", okMark, ev.WUID, lane)
			return nil
		},
	}

	cmd.Flags().StringVar(&projectRoot, "project-root", "", "project root (defaults to upward search)")
	cmd.Flags().StringVar(&lane, "lane", "", "lane the work unit belongs to")
	cmd.Flags().StringVar(&title, "title", "", "one-line description")
	return cmd
}

func wuClaimCmd() *cobra.Command {
	var (
		projectRoot string
		agent       string
	)

	cmd := &cobra.Command{
		Use:   "claim <wu-id>",
		Short: "Claim a ready work unit and attach its lane worktree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wuID := args[0]
			if !model.ValidateWUID(wuID) {
				return fmt.Errorf("invalid WU id: %s", wuID)
			}
			p, err := loadProject(projectRoot)
			if err != nil {
				return err
			}
			states, err := p.states()
			if err != nil {
				return err
			}

			mgr := lifecycle.NewManager(p.cfg, p.layout, p.store, p.git, p.logger)
			res, err := mgr.Claim(states[wuID], wuID, agent)
			if err != nil {
				return err
			}
			if res.BranchReused {
				fmt.Printf("%s resumed branch %s\n", warnMark, res.Branch)
			}
			fmt.Printf("%s claimed %s at %s\n", okMark, wuID, res.WorktreePath)
			return nil
		},
	}

	cmd.Flags().StringVar(&projectRoot, "project-root", "", "project root (defaults to upward search)")
	cmd.Flags().StringVar(&agent, "agent", "", "agent recorded on the claim event")
	return cmd
}

func wuCompleteCmd() *cobra.Command {
	var projectRoot string

	cmd := &cobra.Command{
		Use:   "complete <wu-id>",
		Short: "Record a work unit as completed and regenerate backlog artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wuID := args[0]
			if !model.ValidateWUID(wuID) {
				return fmt.Errorf("invalid WU id: %s", wuID)
			}
			p, err := loadProject(projectRoot)
			if err != nil {
				return err
			}

			completer := complete.NewCompleter(p.store, p.merger, p.layout, p.logger)
			res, err := completer.Complete(wuID)
			if err != nil {
				return err
			}

			if res.Stale {
				fmt.Printf("%s remote log unavailable (%s); completed against local view only\n", warnMark, res.StaleReason)
			}
			if res.AlreadyDone {
				fmt.Printf("%s %s already done\n", okMark, wuID)
				return nil
			}
			for _, f := range res.Files {
				if f.OK() {
					fmt.Printf("%s wrote %s\n", okMark, f.Path)
				} else {
					fmt.Printf("%s %s: %s\n", failMark, f.Path, f.Err)
				}
			}
			if res.Failed() {
				return fmt.Errorf("completion write set partially failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projectRoot, "project-root", "", "project root (defaults to upward search)")
	return cmd
}

func wuRepairCmd() *cobra.Command {
	var (
		projectRoot string
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "repair [wu-id]",
		Short: "Detect and repair state inconsistencies",
		Long: `Detect divergences between WU specs, done stamps, the backlog, and
worktrees, then apply the matching repair per error.

With --project-root, repairs run directly against that root. Without it,
file repairs run inside a disposable worktree of the main branch that is
removed when the batch finishes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(projectRoot)
			if err != nil {
				return err
			}
			states, err := p.states()
			if err != nil {
				return err
			}

			detector := consistency.NewDetector(consistency.Paths{
				SpecsDir:    p.layout.SpecsDir,
				StampsDir:   p.layout.StampsDir,
				BacklogFile: p.layout.BacklogFile,
			}, p.scanner, states, p.logger)

			var report *consistency.Report
			if len(args) == 1 {
				errs, err := detector.DetectWU(args[0])
				if err != nil {
					return err
				}
				report = &consistency.Report{Valid: len(errs) == 0, Errors: errs, SpecsScanned: 1}
			} else {
				report, err = detector.DetectAll()
				if err != nil {
					return err
				}
			}

			if report.Valid {
				fmt.Printf("%s %d specs consistent\n", okMark, report.SpecsScanned)
				return nil
			}
			for _, e := range report.Errors {
				fmt.Printf("%s %s %s: %s\n", warnMark, e.WUID, e.Code, e.Detail)
			}

			summary, err := p.repairs.Repair(report, repair.Options{
				ProjectRoot: projectRoot,
				DryRun:      dryRun,
			})
			if err != nil {
				return err
			}

			verb := "repaired"
			if dryRun {
				verb = "repairable"
			}
			fmt.Printf("%s %d %s, %d skipped, %d failed\n", okMark, summary.Repaired, verb, summary.Skipped, summary.Failed)
			for _, o := range summary.Outcomes {
				if o.Status == repair.StatusFailed {
					fmt.Printf("%s %s %s: %s\n", failMark, o.WUID, o.Code, o.Reason)
				}
			}
			if summary.Failed > 0 {
				return fmt.Errorf("%d repairs failed", summary.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projectRoot, "project-root", "", "repair directly against this root instead of a disposable worktree")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be repaired without touching disk")
	return cmd
}

func wuRecoverCmd() *cobra.Command {
	var (
		projectRoot string
		action      string
	)

	cmd := &cobra.Command{
		Use:   "recover <wu-id>",
		Short: "Diagnose a stuck work unit and optionally apply a recovery action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wuID := args[0]
			if !model.ValidateWUID(wuID) {
				return fmt.Errorf("invalid WU id: %s", wuID)
			}
			p, err := loadProject(projectRoot)
			if err != nil {
				return err
			}
			states, err := p.states()
			if err != nil {
				return err
			}
			st := states[wuID]
			if st == nil {
				return fmt.Errorf("unknown WU: %s", wuID)
			}

			wtPath, hasWorktree, err := p.scanner.PathFor(wuID)
			if err != nil {
				return err
			}
			cwd, _ := os.Getwd()

			analysis := recovery.Analyze(recovery.Context{
				Location: recovery.LocationContext{Cwd: cwd, InWorktree: cwd == wtPath},
				Git:      recovery.GitContext{WorktreeExists: hasWorktree, WorktreePath: wtPath},
				WU:       &recovery.WUContext{ID: wuID, Status: st.Status},
			})

			if action == "" {
				if !analysis.HasIssues {
					fmt.Printf("%s %s looks healthy (status %s)\n", okMark, wuID, st.Status)
					return nil
				}
				for i, issue := range analysis.Issues {
					fmt.Printf("%s %s: %s\n", warnMark, issue.Code, issue.Message)
					fmt.Printf("  suggested: %s\n", analysis.Actions[i].Command)
				}
				return nil
			}

			return p.applyRecovery(wuID, st, wtPath, hasWorktree, action)
		},
	}

	cmd.Flags().StringVar(&projectRoot, "project-root", "", "project root (defaults to upward search)")
	cmd.Flags().StringVar(&action, "action", "", "recovery action to apply: resume | reset | cleanup")
	return cmd
}

// applyRecovery executes one named recovery action. Each action is
// idempotent: applying it to an already-recovered WU changes nothing.
func (p *project) applyRecovery(wuID string, st *model.WUState, wtPath string, hasWorktree bool, action string) error {
	switch action {
	case "resume":
		if st.Status != model.StatusReady {
			fmt.Printf("%s %s is %s, nothing to resume\n", okMark, wuID, st.Status)
			return nil
		}
		ev := model.WUEvent{Type: model.EventClaim, WUID: wuID, Timestamp: model.NowTimestamp(), Lane: st.Lane, Title: st.Title}
		if err := p.store.Append(ev); err != nil {
			return err
		}
		fmt.Printf("%s reclaimed %s\n", okMark, wuID)
		return nil

	case "reset":
		if st.Status != model.StatusInProgress {
			fmt.Printf("%s %s is %s, nothing to reset\n", okMark, wuID, st.Status)
			return nil
		}
		ev := model.WUEvent{Type: model.EventRelease, WUID: wuID, Timestamp: model.NowTimestamp(), Lane: st.Lane, Title: st.Title}
		if err := p.store.Append(ev); err != nil {
			return err
		}
		fmt.Printf("%s released %s back to ready\n", okMark, wuID)
		return nil

	case "cleanup":
		if !hasWorktree {
			fmt.Printf("%s no worktree left for %s\n", okMark, wuID)
			return nil
		}
		if err := p.git.RemoveWorktree(wtPath, true); err != nil {
			return err
		}
		fmt.Printf("%s removed worktree %s\n", okMark, wtPath)
		return nil

	default:
		return fmt.Errorf("unknown action %q (want resume, reset, or cleanup)", action)
	}
}

func wuPruneCmd() *cobra.Command {
	var projectRoot string

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove worktrees whose work units are done",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(projectRoot)
			if err != nil {
				return err
			}
			states, err := p.states()
			if err != nil {
				return err
			}
			report, err := p.scanner.Scan()
			if err != nil {
				return err
			}

			removed := 0
			for _, wt := range report.Worktrees {
				st := states[wt.Info.WUID]
				if st == nil || st.Status != model.StatusDone {
					continue
				}
				if wt.Status.HasUncommittedChanges {
					fmt.Printf("%s keeping %s: %d uncommitted files\n", warnMark, wt.Info.Path, wt.Status.UncommittedFileCount)
					continue
				}
				if err := p.git.RemoveWorktree(wt.Info.Path, false); err != nil {
					fmt.Printf("%s %s: %v\n", failMark, wt.Info.Path, err)
					continue
				}
				fmt.Printf("%s removed %s\n", okMark, wt.Info.Path)
				removed++
			}
			fmt.Printf("%s pruned %d of %d worktrees\n", okMark, removed, report.Total)
			return nil
		},
	}

	cmd.Flags().StringVar(&projectRoot, "project-root", "", "project root (defaults to upward search)")
	return cmd
}

// shortAge renders a duration the way humans skim a status column:
// whole days, hours, or minutes.
func shortAge(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	case d >= time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
}

func wuStatusCmd() *cobra.Command {
	var projectRoot string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show work units and lane worktree activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(projectRoot)
			if err != nil {
				return err
			}
			states, err := p.states()
			if err != nil {
				return err
			}
			report, err := p.scanner.Scan()
			if err != nil {
				return err
			}
			byWU := make(map[string]int, len(report.Worktrees))
			for i, wt := range report.Worktrees {
				byWU[wt.Info.WUID] = i
			}

			ids := make([]string, 0, len(states))
			for id := range states {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			for _, id := range ids {
				st := states[id]
				mark := okMark
				extra := ""
				if i, ok := byWU[id]; ok {
					wt := report.Worktrees[i]
					if wt.Status.Err != "" {
						mark = failMark
						extra = " worktree: " + wt.Status.Err
					} else if wt.Status.HasUncommittedChanges {
						mark = warnMark
						extra = fmt.Sprintf(" %d uncommitted files", wt.Status.UncommittedFileCount)
					}
					if st.Status == model.StatusDone {
						mark = warnMark
						extra += " (worktree left behind)"
					}
				} else if st.Status == model.StatusInProgress {
					mark = warnMark
					extra = " (no worktree)"
				}
				age := ""
				if created, err := model.ParseWUIDTimestamp(id); err == nil {
					age = shortAge(time.Since(created))
				}
				fmt.Printf("%s %s %-12s %4s %s%s\n", mark, id, st.Status, age, st.Title, extra)
			}
			fmt.Printf("\n%d WUs, %d lane worktrees, %d with uncommitted changes\n",
				len(ids), report.Total, report.WithUncommitted)
			return nil
		},
	}

	cmd.Flags().StringVar(&projectRoot, "project-root", "", "project root (defaults to upward search)")
	return cmd
}
