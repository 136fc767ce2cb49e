package playbook

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"
)

// GoalStatus classifies how a run ended.
type GoalStatus string

const (
	StatusSuccess GoalStatus = "success"
	StatusPartial GoalStatus = "partial"
	StatusFailed  GoalStatus = "failed"
	StatusBlocked GoalStatus = "blocked"
	StatusUnknown GoalStatus = "unknown"
)

// GlobalDomain is the reserved namespace whose tips are eligible for every
// retrieval regardless of the requesting domain.
const GlobalDomain = "global"

// DefaultDomain is used when callers do not scope a run.
const DefaultDomain = "default"

// Tip is a scored, domain-scoped piece of advice retained across runs.
type Tip struct {
	ID            string   `json:"id"`
	Tip           string   `json:"tip"`
	Confidence    float64  `json:"confidence"`
	TaskSignature []string `json:"task_signature"`
	Task          string   `json:"task"`
	CreatedAt     string   `json:"created_at"`
	LastUsed      string   `json:"last_used"`
	Domain        string   `json:"domain"`
	HelpfulCount  int      `json:"helpful_count"`
	HarmfulCount  int      `json:"harmful_count"`
}

// TipID derives the deterministic identity of a tip from its domain and
// text. Stable across processes, so re-observed advice collapses onto the
// same record.
func TipID(text, domain string) string {
	sum := sha256.Sum256([]byte(domain + "::" + text))
	return hex.EncodeToString(sum[:])[:12]
}

// NewTip builds a tip carrying the signature, task and domain of the run
// that produced it.
func NewTip(text string, signature []string, task string, confidence float64, domain string) Tip {
	now := nowISO()
	return Tip{
		ID:            TipID(text, domain),
		Tip:           text,
		Confidence:    round2(confidence),
		TaskSignature: append([]string(nil), signature...),
		Task:          task,
		CreatedAt:     now,
		LastUsed:      now,
		Domain:        domain,
		HelpfulCount:  0,
		HarmfulCount:  0,
	}
}

// Action is one structured step taken during a run. Fields the driver does
// not report stay empty; anything extra lands in Detail.
type Action struct {
	Tool          string         `json:"tool,omitempty"`
	ResultType    string         `json:"result_type,omitempty"`
	ErrorCategory string         `json:"error_category,omitempty"`
	LatencyMS     int64          `json:"latency_ms,omitempty"`
	Message       string         `json:"message,omitempty"`
	Detail        map[string]any `json:"detail,omitempty"`
}

// Summary renders the action for curation: tool name plus coarse result and
// error categories.
func (a Action) Summary() string {
	if a.Tool == "" && a.Message != "" {
		return truncate(a.Message, 80)
	}
	tool := a.Tool
	if tool == "" {
		tool = "tool"
	}
	res := a.ResultType
	if res == "" {
		res = "ok"
	}
	errCat := a.ErrorCategory
	if errCat == "" {
		errCat = "none"
	}
	return fmt.Sprintf("%s [%s/%s]", tool, res, errCat)
}

// RunEntry is the immutable record of one completed run. Built once by
// RecordRun, already sanitized, never mutated afterward.
type RunEntry struct {
	ID                   string     `json:"id"`
	Task                 string     `json:"task"`
	Outcome              string     `json:"outcome"`
	Actions              []Action   `json:"actions"`
	Errors               []string   `json:"errors"`
	Preferences          []string   `json:"preferences"`
	Timestamp            string     `json:"timestamp"`
	Signature            []string   `json:"signature"`
	GoalStatus           GoalStatus `json:"goal_status"`
	ReasonForStatus      string     `json:"reason_for_status"`
	AnswerRelevanceScore float64    `json:"answer_relevance_score"`
	UsedTipIDs           []string   `json:"used_tip_ids"`
	Domain               string     `json:"domain"`
}

// Playbook is the persisted document: the run history, the bounded working
// memory of tips, and the user's standing preferences.
type Playbook struct {
	Entries     []RunEntry `json:"entries"`
	ActiveTips  []Tip      `json:"active_tips"`
	Preferences []string   `json:"preferences"`
}

// NewPlaybook returns an empty document with all keys present.
func NewPlaybook() *Playbook {
	return &Playbook{
		Entries:     []RunEntry{},
		ActiveTips:  []Tip{},
		Preferences: []string{},
	}
}

// Clone deep-copies the document so mutations can be staged and swapped in
// only after a successful persist.
func (p *Playbook) Clone() *Playbook {
	c := &Playbook{
		Entries:     make([]RunEntry, len(p.Entries)),
		ActiveTips:  make([]Tip, len(p.ActiveTips)),
		Preferences: append([]string{}, p.Preferences...),
	}
	copy(c.Entries, p.Entries)
	for i := range c.Entries {
		e := &c.Entries[i]
		e.Actions = cloneActions(e.Actions)
		e.Errors = append([]string{}, e.Errors...)
		e.Preferences = append([]string{}, e.Preferences...)
		e.Signature = append([]string{}, e.Signature...)
		e.UsedTipIDs = append([]string{}, e.UsedTipIDs...)
	}
	copy(c.ActiveTips, p.ActiveTips)
	for i := range c.ActiveTips {
		t := &c.ActiveTips[i]
		t.TaskSignature = append([]string{}, t.TaskSignature...)
	}
	return c
}

func cloneActions(actions []Action) []Action {
	out := make([]Action, len(actions))
	copy(out, actions)
	for i := range out {
		if out[i].Detail != nil {
			d := make(map[string]any, len(out[i].Detail))
			for k, v := range out[i].Detail {
				d[k] = v
			}
			out[i].Detail = d
		}
	}
	return out
}

// Config carries the engine's curation, decay and retrieval parameters.
type Config struct {
	// MaxActiveTips bounds the working memory after eviction.
	MaxActiveTips int
	// MaxPreferences caps the standing preference list.
	MaxPreferences int
	// MaxEntries bounds the run history; 0 keeps it unbounded.
	MaxEntries int
	// DecayPerDay is the daily confidence decay rate.
	DecayPerDay float64
	// EvictBelow drops tips whose confidence falls under this value.
	EvictBelow float64
	// SelectLimit caps retrieval results above the score threshold.
	SelectLimit int
	// FallbackLimit caps the confidence-dominated fallback selection.
	FallbackLimit int
	// ScoreThreshold is the minimum retrieval score for primary selection.
	ScoreThreshold float64
	// MaxReflectedTips caps tips accepted from the reflector per run.
	MaxReflectedTips int
	// AsyncReflection runs the reflector after RecordRun returns.
	AsyncReflection bool
}

// DefaultConfig returns the engine's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxActiveTips:    20,
		MaxPreferences:   12,
		MaxEntries:       0,
		DecayPerDay:      0.02,
		EvictBelow:       0.2,
		SelectLimit:      8,
		FallbackLimit:    5,
		ScoreThreshold:   0.2,
		MaxReflectedTips: 3,
		AsyncReflection:  false,
	}
}

// Validate checks that the config has usable values.
func (c *Config) Validate() error {
	if c.MaxActiveTips <= 0 {
		return fmt.Errorf("max_active_tips must be positive")
	}
	if c.MaxPreferences <= 0 {
		return fmt.Errorf("max_preferences must be positive")
	}
	if c.MaxEntries < 0 {
		return fmt.Errorf("max_entries cannot be negative")
	}
	if c.DecayPerDay < 0 || c.DecayPerDay > 1 {
		return fmt.Errorf("decay_per_day must be between 0 and 1")
	}
	if c.EvictBelow < 0 || c.EvictBelow > 1 {
		return fmt.Errorf("evict_below must be between 0 and 1")
	}
	if c.SelectLimit <= 0 || c.FallbackLimit <= 0 {
		return fmt.Errorf("selection limits must be positive")
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("score_threshold must be between 0 and 1")
	}
	if c.MaxReflectedTips <= 0 {
		return fmt.Errorf("max_reflected_tips must be positive")
	}
	return nil
}

// timeNow is a seam so decay tests can pin the clock.
var timeNow = time.Now

// nowISO formats the current UTC instant the way the persisted documents
// store timestamps.
func nowISO() string {
	return timeNow().UTC().Format(time.RFC3339)
}

// parseISO parses a stored timestamp, falling back to now when absent or
// unparseable so decay arithmetic never fails.
func parseISO(s string, now time.Time) time.Time {
	if s == "" {
		return now
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	return now
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
