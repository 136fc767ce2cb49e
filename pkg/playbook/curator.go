package playbook

import (
	"fmt"
	"strings"
)

// Curation confidences and truncation caps. The confidences rank error
// avoidance above outcome recall above action summaries; the fallback
// records that a run happened without pretending to know anything.
const (
	outcomeTipConfidence  = 0.65
	errorTipConfidence    = 0.70
	actionTipConfidence   = 0.60
	fallbackTipConfidence = 0.50

	outcomeTipMaxLen = 280
	errorTipMaxLen   = 180
	actionSummaryLen = 280
	actionWindow     = 3
)

// Curator derives candidate tips from a completed run. Candidates are never
// persisted directly; the merger reconciles them with the active set.
type Curator struct{}

// NewCurator creates a curator.
func NewCurator() *Curator {
	return &Curator{}
}

// Curate applies each rule independently and returns every tip produced.
// The entry is already sanitized. When no rule fires, a single
// low-information fallback tip is produced so the run still leaves a trace.
func (c *Curator) Curate(entry *RunEntry) []Tip {
	var tips []Tip

	task := strings.TrimSpace(entry.Task)
	outcome := strings.TrimSpace(entry.Outcome)

	if outcome != "" {
		tips = append(tips, NewTip(
			fmt.Sprintf("When tackling '%s', keep the last observed outcome in mind: %s",
				task, truncate(outcome, outcomeTipMaxLen)),
			entry.Signature, task, outcomeTipConfidence, entry.Domain,
		))
	}

	for _, runErr := range entry.Errors {
		tips = append(tips, NewTip(
			fmt.Sprintf("Avoid repeating this failure for '%s': %s",
				task, truncate(runErr, errorTipMaxLen)),
			entry.Signature, task, errorTipConfidence, entry.Domain,
		))
	}

	if len(entry.Actions) > 0 {
		recent := entry.Actions
		if len(recent) > actionWindow {
			recent = recent[len(recent)-actionWindow:]
		}
		summaries := make([]string, len(recent))
		for i, a := range recent {
			summaries[i] = a.Summary()
		}
		tips = append(tips, NewTip(
			fmt.Sprintf("Recent actions for '%s': %s",
				task, truncate(strings.Join(summaries, ", "), actionSummaryLen)),
			entry.Signature, task, actionTipConfidence, entry.Domain,
		))
	}

	if len(tips) == 0 {
		tips = append(tips, NewTip(
			fmt.Sprintf("Log kept for '%s', no specific guidance yet.", task),
			entry.Signature, task, fallbackTipConfidence, entry.Domain,
		))
	}

	return tips
}
