package playbook

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ace-agents/playbook/pkg/logging"
)

// RedactionMarker replaces every redacted or denylisted substring.
const RedactionMarker = "[REDACTED]"

// Text length caps applied by the sanitizer.
const (
	maxFreeTextLen    = 2000
	maxFieldTextLen   = 500
	maxStringifiedLen = 200
)

// Guardrails is the static, non-learned redaction configuration. Loaded
// once; the engine never mutates it.
type Guardrails struct {
	Notes           []string `json:"notes"`
	NeverStoreTerms []string `json:"never_store_terms"`
	RedactPatterns  []string `json:"redact_patterns"`
}

// DefaultGuardrails returns the built-in rule set written out when no
// guardrails document exists yet.
func DefaultGuardrails() Guardrails {
	return Guardrails{
		Notes: []string{
			"Do not store secrets, tokens, session data, emails, or URLs with query parameters.",
			"Summaries should focus on behaviors and steps, not raw scraped content.",
			"User-supplied preferences are allowed and should be preserved.",
		},
		NeverStoreTerms: []string{
			"password", "token", "cookie", "session", "secret", "api_key",
		},
		RedactPatterns: []string{
			`sk-[A-Za-z0-9]{20,}`,
			`(?i)api[_-]?key\s*[:=]\s*\S+`,
			`(?i)bearer\s+[A-Za-z0-9\-\._]+`,
		},
	}
}

// Sanitizer applies guardrail redaction and truncation to all text before
// it reaches persistence or a prompt.
type Sanitizer struct {
	notes    []string
	patterns []*regexp.Regexp
	terms    []*regexp.Regexp
}

// NewSanitizer compiles the guardrail patterns. Invalid patterns are
// skipped with a warning rather than failing the load, so a bad rule never
// takes the engine down.
func NewSanitizer(g Guardrails) *Sanitizer {
	logger := logging.GetLogger()

	s := &Sanitizer{notes: append([]string{}, g.Notes...)}
	for _, p := range g.RedactPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			logger.Warn(context.Background(), "skipping invalid redact pattern %q: %v", p, err)
			continue
		}
		s.patterns = append(s.patterns, re)
	}
	for _, term := range g.NeverStoreTerms {
		if term == "" {
			continue
		}
		// Case-insensitive literal containment
		re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(term))
		if err != nil {
			logger.Warn(context.Background(), "skipping invalid denylist term %q: %v", term, err)
			continue
		}
		s.terms = append(s.terms, re)
	}
	return s
}

// Notes returns the advisory notes surfaced verbatim in every overlay.
func (s *Sanitizer) Notes() []string {
	return append([]string{}, s.notes...)
}

// SanitizeText redacts configured patterns, then denylisted terms, then
// hard-truncates to the free-text cap. Pure function of input and config.
func (s *Sanitizer) SanitizeText(text string) string {
	if text == "" {
		return ""
	}
	cleaned := text
	for _, re := range s.patterns {
		cleaned = re.ReplaceAllString(cleaned, RedactionMarker)
	}
	for _, re := range s.terms {
		cleaned = re.ReplaceAllString(cleaned, RedactionMarker)
	}
	return truncate(cleaned, maxFreeTextLen)
}

// sanitizeField sanitizes a structured-record string field with its tighter
// length cap.
func (s *Sanitizer) sanitizeField(text string) string {
	return truncate(s.SanitizeText(text), maxFieldTextLen)
}

// SanitizeRecord applies SanitizeText to every string value, passes numeric
// and boolean values through, stringifies anything else, and drops nils.
func (s *Sanitizer) SanitizeRecord(record map[string]any) map[string]any {
	cleaned := make(map[string]any, len(record))
	for k, v := range record {
		if v == nil {
			continue
		}
		switch value := v.(type) {
		case string:
			cleaned[k] = s.sanitizeField(value)
		case bool, int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
			cleaned[k] = value
		default:
			cleaned[k] = truncate(fmt.Sprint(value), maxStringifiedLen)
		}
	}
	return cleaned
}

// SanitizeAction cleans every textual field of a structured action record.
func (s *Sanitizer) SanitizeAction(a Action) Action {
	out := Action{
		Tool:          s.sanitizeField(a.Tool),
		ResultType:    s.sanitizeField(a.ResultType),
		ErrorCategory: s.sanitizeField(a.ErrorCategory),
		LatencyMS:     a.LatencyMS,
		Message:       s.sanitizeField(a.Message),
	}
	if len(a.Detail) > 0 {
		out.Detail = s.SanitizeRecord(a.Detail)
	}
	return out
}

// SanitizeStrings sanitizes a list of free-text values, dropping entries
// that end up blank.
func (s *Sanitizer) SanitizeStrings(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		out = append(out, s.SanitizeText(v))
	}
	return out
}
