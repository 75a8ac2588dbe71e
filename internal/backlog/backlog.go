// Package backlog renders the human-readable BACKLOG.md / STATUS.md
// artifacts from an event-derived projection, and parses backlog sections
// back out so the consistency detector can cross-check them as a second
// source of truth.
package backlog

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/skohara/lanekeeper/internal/model"
)

// Section headers are fixed; the detector matches on them verbatim.
const (
	SectionReady      = "Ready"
	SectionInProgress = "In Progress"
	SectionDone       = "Done"
)

var sectionOrder = []string{SectionReady, SectionInProgress, SectionDone}

// SectionFor maps a projected status to its backlog section.
func SectionFor(status model.Status) string {
	switch status {
	case model.StatusInProgress:
		return SectionInProgress
	case model.StatusDone:
		return SectionDone
	default:
		return SectionReady
	}
}

// Render produces the full BACKLOG.md content for a projection. Bullets
// are sorted by WU id within each section, so regeneration is
// deterministic and diffs stay readable.
func Render(states map[string]*model.WUState) string {
	bySection := make(map[string][]*model.WUState)
	for _, st := range states {
		section := SectionFor(st.Status)
		bySection[section] = append(bySection[section], st)
	}

	var b strings.Builder
	b.WriteString("# Backlog\n\n")
	b.WriteString("<!-- generated by lanekeeper; edits are overwritten -->\n")

	for _, section := range sectionOrder {
		b.WriteString("\n## " + section + "\n\n")
		entries := bySection[section]
		sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
		for _, st := range entries {
			b.WriteString(formatBullet(st))
		}
	}
	return b.String()
}

func formatBullet(st *model.WUState) string {
	var meta []string
	if st.Lane != "" {
		meta = append(meta, st.Lane)
	}
	if st.Agent != "" && st.Status == model.StatusInProgress {
		meta = append(meta, st.Agent)
	}

	title := st.Title
	if title == "" {
		title = "(untitled)"
	}
	if len(meta) > 0 {
		return fmt.Sprintf("- %s — %s (%s)\n", st.ID, title, strings.Join(meta, ", "))
	}
	return fmt.Sprintf("- %s — %s\n", st.ID, title)
}

// RenderStatus produces the STATUS.md summary.
func RenderStatus(states map[string]*model.WUState, now time.Time) string {
	counts := map[string]int{}
	lanes := map[string]map[string]int{}
	for _, st := range states {
		section := SectionFor(st.Status)
		counts[section]++
		lane := st.Lane
		if lane == "" {
			lane = "(none)"
		}
		if lanes[lane] == nil {
			lanes[lane] = map[string]int{}
		}
		lanes[lane][section]++
	}

	var b strings.Builder
	b.WriteString("# Status\n\n")
	fmt.Fprintf(&b, "_Updated: %s_\n\n", now.UTC().Format(time.RFC3339))

	b.WriteString("| Status | Count |\n|---|---|\n")
	for _, section := range sectionOrder {
		fmt.Fprintf(&b, "| %s | %d |\n", section, counts[section])
	}

	laneNames := make([]string, 0, len(lanes))
	for name := range lanes {
		laneNames = append(laneNames, name)
	}
	sort.Strings(laneNames)

	b.WriteString("\n## Lanes\n\n")
	for _, name := range laneNames {
		c := lanes[name]
		fmt.Fprintf(&b, "- %s: %d ready, %d in progress, %d done\n",
			name, c[SectionReady], c[SectionInProgress], c[SectionDone])
	}
	return b.String()
}

// Entry is one parsed backlog bullet.
type Entry struct {
	WUID string
	Line int // 1-based line number in the source document
}

// Doc is the parsed section structure of a backlog document.
type Doc struct {
	Sections map[string][]Entry
}

// Parse extracts WU bullets per section. Unrecognized sections and
// non-bullet lines are ignored; the parser is deliberately forgiving
// because humans read (and occasionally touch) this file.
func Parse(content string) *Doc {
	doc := &Doc{Sections: make(map[string][]Entry)}
	section := ""
	for i, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if name, ok := strings.CutPrefix(line, "## "); ok {
			section = strings.TrimSpace(name)
			continue
		}
		if section == "" || !strings.HasPrefix(line, "- ") {
			continue
		}
		if id := model.ExtractWUID(line); id != "" {
			doc.Sections[section] = append(doc.Sections[section], Entry{WUID: id, Line: i + 1})
		}
	}
	return doc
}

// SectionsFor returns every section that lists wuID, in canonical order.
func (d *Doc) SectionsFor(wuID string) []string {
	var out []string
	for _, section := range sectionOrder {
		for _, e := range d.Sections[section] {
			if e.WUID == wuID {
				out = append(out, section)
				break
			}
		}
	}
	return out
}

// RemoveFromSection deletes wuID's bullet from the named section and
// returns the rewritten document. The second result reports whether
// anything changed, making the operation idempotent.
func RemoveFromSection(content, wuID, section string) (string, bool) {
	lines := strings.Split(content, "\n")
	current := ""
	changed := false
	out := lines[:0]
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if name, ok := strings.CutPrefix(line, "## "); ok {
			current = strings.TrimSpace(name)
		}
		if current == section && strings.HasPrefix(line, "- ") && model.ExtractWUID(line) == wuID {
			changed = true
			continue
		}
		out = append(out, raw)
	}
	return strings.Join(out, "\n"), changed
}
