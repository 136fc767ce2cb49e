package playbook

import (
	"sort"
	"strings"
)

// Retrieval score weights: task similarity dominates, confidence breaks the
// tie when task text is thin.
const (
	scoreSimilarityWeight = 0.6
	scoreConfidenceWeight = 0.4
)

// Overlay section headers, matching what downstream prompts were tuned on.
const (
	tipsHeader        = "ACE curated tips (recent, matched):"
	preferencesHeader = "User preferences to respect:"
	guardrailsHeader  = "Guardrails:"

	overlayPreferenceLimit = 5
)

// selectTips ranks the active tips for a task within a domain and returns
// the indices of the selected tips, best first. Only tips in the requesting
// domain or the global domain are eligible. Tips scoring at or above the
// threshold win, capped at SelectLimit; when none qualify, the top
// FallbackLimit eligible tips are returned instead (confidence-dominated
// when the task has no signature).
func selectTips(tips []Tip, task, domain string, cfg Config) []int {
	signature := TaskSignature(task)

	type scored struct {
		index int
		score float64
	}
	var candidates []scored

	for i, t := range tips {
		tipDomain := t.Domain
		if tipDomain == "" {
			tipDomain = DefaultDomain
		}
		if tipDomain != domain && tipDomain != GlobalDomain {
			continue
		}

		sim := 0.0
		if len(signature) > 0 {
			sim = Similarity(signature, t.TaskSignature)
		}
		candidates = append(candidates, scored{
			index: i,
			score: sim*scoreSimilarityWeight + t.Confidence*scoreConfidenceWeight,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	var selected []int
	for _, c := range candidates {
		if c.score < cfg.ScoreThreshold {
			break
		}
		selected = append(selected, c.index)
		if len(selected) == cfg.SelectLimit {
			break
		}
	}

	if len(selected) == 0 {
		for _, c := range candidates {
			selected = append(selected, c.index)
			if len(selected) == cfg.FallbackLimit {
				break
			}
		}
	}

	return selected
}

// buildOverlay assembles the prompt overlay: matched tips, the first
// preferences, and every guardrail note. Empty when all three sections
// are empty.
func buildOverlay(tips []Tip, preferences, guardrailNotes []string) string {
	var lines []string

	if len(tips) > 0 {
		lines = append(lines, tipsHeader)
		for _, t := range tips {
			lines = append(lines, "- "+t.Tip)
		}
	}

	if len(preferences) > 0 {
		lines = append(lines, preferencesHeader)
		limit := len(preferences)
		if limit > overlayPreferenceLimit {
			limit = overlayPreferenceLimit
		}
		for _, p := range preferences[:limit] {
			lines = append(lines, "- "+p)
		}
	}

	if len(guardrailNotes) > 0 {
		lines = append(lines, guardrailsHeader)
		for _, note := range guardrailNotes {
			lines = append(lines, "- "+note)
		}
	}

	return strings.Join(lines, "\n")
}
