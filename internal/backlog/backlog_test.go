package backlog

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skohara/lanekeeper/internal/model"
)

const (
	wuA = "wu_1771722000_a3f2b7c1"
	wuB = "wu_1771722060_b7c1d4e9"
	wuC = "wu_1771722120_c3d4e5f6"
)

func sampleStates() map[string]*model.WUState {
	return map[string]*model.WUState{
		wuA: {ID: wuA, Status: model.StatusReady, Lane: "auth", Title: "Add login flow"},
		wuB: {ID: wuB, Status: model.StatusInProgress, Lane: "auth", Agent: "impl-1", Title: "Token refresh"},
		wuC: {ID: wuC, Status: model.StatusDone, Lane: "billing", Title: "Invoice export"},
	}
}

func TestRender_SectionsAndBullets(t *testing.T) {
	out := Render(sampleStates())

	assert.Contains(t, out, "## Ready")
	assert.Contains(t, out, "## In Progress")
	assert.Contains(t, out, "## Done")
	assert.Contains(t, out, "- "+wuA+" — Add login flow (auth)")
	assert.Contains(t, out, "- "+wuB+" — Token refresh (auth, impl-1)")
	assert.Contains(t, out, "- "+wuC+" — Invoice export (billing)")
}

func TestRender_Deterministic(t *testing.T) {
	a := Render(sampleStates())
	b := Render(sampleStates())
	assert.Equal(t, a, b)
}

func TestParse_RoundTrip(t *testing.T) {
	doc := Parse(Render(sampleStates()))

	require.Len(t, doc.Sections[SectionReady], 1)
	assert.Equal(t, wuA, doc.Sections[SectionReady][0].WUID)
	require.Len(t, doc.Sections[SectionInProgress], 1)
	assert.Equal(t, wuB, doc.Sections[SectionInProgress][0].WUID)
	require.Len(t, doc.Sections[SectionDone], 1)
	assert.Equal(t, wuC, doc.Sections[SectionDone][0].WUID)
}

func TestSectionsFor_DuplicateEntry(t *testing.T) {
	content := strings.Join([]string{
		"# Backlog",
		"",
		"## In Progress",
		"",
		"- " + wuA + " — Add login flow (auth)",
		"",
		"## Done",
		"",
		"- " + wuA + " — Add login flow (auth)",
		"",
	}, "\n")

	doc := Parse(content)
	sections := doc.SectionsFor(wuA)
	assert.Equal(t, []string{SectionInProgress, SectionDone}, sections)
}

func TestRemoveFromSection(t *testing.T) {
	content := strings.Join([]string{
		"## In Progress",
		"",
		"- " + wuA + " — Add login flow (auth)",
		"- " + wuB + " — Token refresh (auth)",
		"",
		"## Done",
		"",
		"- " + wuA + " — Add login flow (auth)",
	}, "\n")

	rewritten, changed := RemoveFromSection(content, wuA, SectionInProgress)
	require.True(t, changed)

	doc := Parse(rewritten)
	assert.Equal(t, []string{SectionDone}, doc.SectionsFor(wuA))
	// Unrelated bullet survives
	assert.Equal(t, []string{SectionInProgress}, doc.SectionsFor(wuB))

	// Idempotent: removing again changes nothing
	again, changed := RemoveFromSection(rewritten, wuA, SectionInProgress)
	assert.False(t, changed)
	assert.Equal(t, rewritten, again)
}

func TestRenderStatus(t *testing.T) {
	now := time.Date(2026, 2, 22, 12, 0, 0, 0, time.UTC)
	out := RenderStatus(sampleStates(), now)

	assert.Contains(t, out, "| Ready | 1 |")
	assert.Contains(t, out, "| In Progress | 1 |")
	assert.Contains(t, out, "| Done | 1 |")
	assert.Contains(t, out, "- auth: 1 ready, 1 in progress, 0 done")
	assert.Contains(t, out, "- billing: 0 ready, 0 in progress, 1 done")
	assert.Contains(t, out, "2026-02-22T12:00:00Z")
}
