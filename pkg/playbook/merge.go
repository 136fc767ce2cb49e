package playbook

import (
	"math"
	"sort"
	"time"
)

// Confidence bounds and merge weights. The 0.7/0.5 blend deliberately sums
// past 1 so re-observed advice recovers confidence faster than a true
// average would.
const (
	minConfidence = 0.1
	maxConfidence = 1.0

	mergeExistingWeight  = 0.7
	mergeCandidateWeight = 0.5

	minDecayFactor = 0.5
)

// mergeTips reconciles candidate tips with the active set. A candidate
// whose identity already exists updates that record in place (blended
// confidence, refreshed signature/task/domain/lastUsed, counters kept);
// otherwise it is inserted. The input slice is not modified.
func mergeTips(existing, candidates []Tip) []Tip {
	merged := make([]Tip, len(existing))
	copy(merged, existing)

	index := make(map[string]int, len(merged))
	for i, t := range merged {
		id := t.ID
		if id == "" {
			id = TipID(t.Tip, t.Domain)
			merged[i].ID = id
		}
		index[id] = i
	}

	now := nowISO()
	for _, cand := range candidates {
		if cand.ID == "" {
			cand.ID = TipID(cand.Tip, cand.Domain)
		}
		i, ok := index[cand.ID]
		if !ok {
			index[cand.ID] = len(merged)
			merged = append(merged, cand)
			continue
		}

		t := &merged[i]
		blended := t.Confidence*mergeExistingWeight + cand.Confidence*mergeCandidateWeight
		t.Confidence = round2(math.Min(maxConfidence, blended))
		if len(cand.TaskSignature) > 0 {
			t.TaskSignature = append([]string{}, cand.TaskSignature...)
		}
		t.Task = cand.Task
		t.Domain = cand.Domain
		t.LastUsed = now
	}

	return merged
}

// applyDecay ages every tip by whole days since it was last used (falling
// back to creation time, then to now). Runs over the entire set on every
// merge and retrieval so idle tips stay honest.
func applyDecay(tips []Tip, now time.Time, decayPerDay float64) []Tip {
	for i := range tips {
		t := &tips[i]
		ref := t.LastUsed
		if ref == "" {
			ref = t.CreatedAt
		}
		last := parseISO(ref, now)

		daysOld := int(now.Sub(last).Hours() / 24)
		if daysOld < 0 {
			daysOld = 0
		}
		factor := math.Max(minDecayFactor, 1-decayPerDay*float64(daysOld))
		t.Confidence = round2(math.Max(minConfidence, t.Confidence*factor))
	}
	return tips
}

// evictTips drops tips below the eviction threshold and keeps the top
// maxTips by confidence. A bounded, confidence-ranked cache, not LRU.
func evictTips(tips []Tip, evictBelow float64, maxTips int) []Tip {
	kept := make([]Tip, 0, len(tips))
	for _, t := range tips {
		if t.Confidence >= evictBelow {
			kept = append(kept, t)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Confidence > kept[j].Confidence
	})

	if len(kept) > maxTips {
		kept = kept[:maxTips]
	}
	return kept
}
