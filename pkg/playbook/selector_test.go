package playbook

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectTipsDomainIsolation(t *testing.T) {
	tips := []Tip{
		NewTip("team A advice", TaskSignature("check pricing"), "check pricing", 0.9, "teamA"),
		NewTip("team B advice", TaskSignature("check pricing"), "check pricing", 0.9, "teamB"),
		NewTip("shared advice", TaskSignature("check pricing"), "check pricing", 0.9, GlobalDomain),
	}

	selected := selectTips(tips, "check pricing", "teamB", DefaultConfig())

	var texts []string
	for _, i := range selected {
		texts = append(texts, tips[i].Tip)
	}
	assert.NotContains(t, texts, "team A advice")
	assert.Contains(t, texts, "team B advice")
	assert.Contains(t, texts, "shared advice")
}

func TestSelectTipsScoringOrder(t *testing.T) {
	tips := []Tip{
		NewTip("low match", TaskSignature("unrelated thing entirely"), "", 0.9, "d1"),
		NewTip("high match", TaskSignature("check pricing page"), "", 0.9, "d1"),
	}

	selected := selectTips(tips, "check pricing page", "d1", DefaultConfig())

	require.NotEmpty(t, selected)
	assert.Equal(t, "high match", tips[selected[0]].Tip)
}

func TestSelectTipsThresholdAndCap(t *testing.T) {
	var tips []Tip
	for i := 0; i < 12; i++ {
		tips = append(tips, NewTip(fmt.Sprintf("advice %d", i), TaskSignature("check pricing"), "check pricing", 0.9, "d1"))
	}

	selected := selectTips(tips, "check pricing", "d1", DefaultConfig())
	assert.Len(t, selected, 8)
}

func TestSelectTipsFallback(t *testing.T) {
	// No task text: similarity 0, score = 0.4 * confidence. With very low
	// confidence nothing clears the 0.2 threshold, so the top eligible tips
	// come back anyway.
	var tips []Tip
	for i := 0; i < 7; i++ {
		tips = append(tips, NewTip(fmt.Sprintf("advice %d", i), nil, "", 0.3, "d1"))
	}

	selected := selectTips(tips, "", "d1", DefaultConfig())
	assert.Len(t, selected, 5)
}

func TestSelectTipsEmptyStore(t *testing.T) {
	selected := selectTips(nil, "check pricing", "d1", DefaultConfig())
	assert.Empty(t, selected)
}

func TestSelectTipsBlankDomainTreatedAsDefault(t *testing.T) {
	tips := []Tip{{ID: "x", Tip: "legacy tip", Confidence: 0.9}}

	selected := selectTips(tips, "anything", DefaultDomain, DefaultConfig())
	assert.Len(t, selected, 1)
}

func TestBuildOverlaySections(t *testing.T) {
	tips := []Tip{
		NewTip("mind the popup", nil, "", 0.7, "d1"),
		NewTip("prices load late", nil, "", 0.6, "d1"),
	}
	prefs := []string{"p1", "p2", "p3", "p4", "p5", "p6", "p7"}
	notes := []string{"never store secrets"}

	overlay := buildOverlay(tips, prefs, notes)

	assert.Contains(t, overlay, tipsHeader)
	assert.Contains(t, overlay, "- mind the popup")
	assert.Contains(t, overlay, preferencesHeader)
	assert.Contains(t, overlay, "- p5")
	// Only the first five preferences are surfaced
	assert.NotContains(t, overlay, "- p6")
	assert.Contains(t, overlay, guardrailsHeader)
	assert.Contains(t, overlay, "- never store secrets")
}

func TestBuildOverlayEmpty(t *testing.T) {
	assert.Equal(t, "", buildOverlay(nil, nil, nil))
}

func TestBuildOverlayTipsOnly(t *testing.T) {
	overlay := buildOverlay([]Tip{NewTip("only tip", nil, "", 0.7, "d1")}, nil, nil)

	assert.True(t, strings.HasPrefix(overlay, tipsHeader))
	assert.NotContains(t, overlay, preferencesHeader)
	assert.NotContains(t, overlay, guardrailsHeader)
}
