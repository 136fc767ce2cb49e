package playbook

import (
	"strings"
	"unicode"
)

// maxSignatureTokens bounds the task fingerprint.
const maxSignatureTokens = 12

// Articles, prepositions and conjunctions that carry no task identity.
var stopWords = map[string]bool{
	"the": true, "and": true, "or": true, "to": true, "for": true,
	"of": true, "a": true, "an": true, "in": true, "on": true,
	"at": true, "with": true, "by": true,
}

// TaskSignature reduces a free-text task description to at most twelve
// lowercase alphanumeric tokens, stop words removed, duplicates collapsed
// in first-seen order. Deterministic; empty input yields an empty signature.
func TaskSignature(task string) []string {
	signature := make([]string, 0, maxSignatureTokens)
	seen := make(map[string]bool)

	var word strings.Builder
	flush := func() {
		if word.Len() == 0 {
			return
		}
		token := word.String()
		word.Reset()
		if stopWords[token] || seen[token] {
			return
		}
		seen[token] = true
		if len(signature) < maxSignatureTokens {
			signature = append(signature, token)
		}
	}

	for _, r := range strings.ToLower(task) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			word.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()

	return signature
}

// Similarity is the Jaccard index of two signatures: intersection over
// union, 0 when either is empty. Symmetric, and 1 for identical non-empty
// signatures.
func Similarity(sigA, sigB []string) float64 {
	if len(sigA) == 0 || len(sigB) == 0 {
		return 0
	}

	setA := make(map[string]bool, len(sigA))
	for _, t := range sigA {
		setA[t] = true
	}
	setB := make(map[string]bool, len(sigB))
	for _, t := range sigB {
		setB[t] = true
	}

	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
