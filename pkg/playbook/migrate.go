package playbook

import (
	"encoding/json"
)

// Defaults applied when upgrading legacy tip records.
const migratedTipConfidence = 0.6

// DecodePlaybook parses a persisted playbook document, tolerating older
// formats. Returns the document and whether anything was upgraded (in which
// case the caller persists immediately).
//
// Upgrades handled:
//   - malformed document: treated as empty
//   - missing top-level keys: backfilled with empty values
//   - bare string tips: promoted to structured tips with defaults
//   - structured tips missing id/domain/confidence/timestamps: backfilled
func DecodePlaybook(data []byte) (*Playbook, bool) {
	pb := NewPlaybook()
	if len(data) == 0 {
		return pb, false
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return pb, false
	}

	migrated := false

	if entriesRaw, ok := raw["entries"]; ok {
		if err := json.Unmarshal(entriesRaw, &pb.Entries); err != nil {
			pb.Entries = []RunEntry{}
		}
		if pb.Entries == nil {
			pb.Entries = []RunEntry{}
		}
	} else {
		migrated = true
	}

	if prefsRaw, ok := raw["preferences"]; ok {
		if err := json.Unmarshal(prefsRaw, &pb.Preferences); err != nil {
			pb.Preferences = []string{}
		}
		if pb.Preferences == nil {
			pb.Preferences = []string{}
		}
	} else {
		migrated = true
	}

	tipsRaw, ok := raw["active_tips"]
	if !ok {
		return pb, true
	}

	var rawTips []json.RawMessage
	if err := json.Unmarshal(tipsRaw, &rawTips); err != nil {
		return pb, migrated
	}

	now := nowISO()
	for _, rt := range rawTips {
		tip, changed, ok := decodeTip(rt, now)
		if !ok {
			migrated = true // unreadable record dropped
			continue
		}
		if changed {
			migrated = true
		}
		pb.ActiveTips = append(pb.ActiveTips, tip)
	}

	return pb, migrated
}

// decodeTip upgrades a single tip record. It accepts both the structured
// form and the legacy bare-string form.
func decodeTip(raw json.RawMessage, now string) (Tip, bool, bool) {
	// Legacy format: the tip is just its text.
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return Tip{
			ID:            TipID(text, DefaultDomain),
			Tip:           text,
			Confidence:    migratedTipConfidence,
			TaskSignature: []string{},
			Task:          "",
			CreatedAt:     now,
			LastUsed:      now,
			Domain:        DefaultDomain,
		}, true, true
	}

	var tip Tip
	if err := json.Unmarshal(raw, &tip); err != nil {
		return Tip{}, false, false
	}

	changed := false
	if tip.Domain == "" {
		tip.Domain = DefaultDomain
		changed = true
	}
	if tip.Confidence == 0 {
		tip.Confidence = migratedTipConfidence
		changed = true
	}
	if tip.CreatedAt == "" {
		tip.CreatedAt = now
		changed = true
	}
	if tip.LastUsed == "" {
		tip.LastUsed = now
		changed = true
	}
	if tip.TaskSignature == nil {
		tip.TaskSignature = []string{}
		changed = true
	}
	if tip.ID == "" {
		tip.ID = TipID(tip.Tip, tip.Domain)
		changed = true
	}
	return tip, changed, true
}

// DecodeGuardrails parses a persisted guardrails document, falling back to
// the built-in defaults when it is malformed.
func DecodeGuardrails(data []byte) Guardrails {
	if len(data) == 0 {
		return DefaultGuardrails()
	}
	var g Guardrails
	if err := json.Unmarshal(data, &g); err != nil {
		return DefaultGuardrails()
	}
	return g
}
