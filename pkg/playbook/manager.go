package playbook

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	errs "github.com/ace-agents/playbook/pkg/errors"
	"github.com/ace-agents/playbook/pkg/logging"
)

// Bounds applied when building a run entry.
const (
	maxEntryActions     = 50
	maxEntryErrors      = 25
	maxEntryPreferences = 10
)

// Feedback increments applied to tips a run actually used.
const feedbackDelta = 0.05

// Manager owns the shared playbook store. Every mutating operation (and
// every read that refreshes lastUsed) runs under one lock, stages its
// changes on a copy, persists, and only then swaps the copy in. A failed
// persist leaves the in-memory store untouched.
type Manager struct {
	mu        sync.Mutex
	cfg       Config
	storage   Storage
	sanitizer *Sanitizer
	curator   *Curator
	reflector Reflector // may be nil
	playbook  *Playbook
	logger    *logging.Logger

	// Background reflection
	wg conc.WaitGroup

	// Metrics
	runsRecorded    atomic.Int64
	tipsCurated     atomic.Int64
	tipsReflected   atomic.Int64
	feedbackApplied atomic.Int64
}

// RunInput carries everything a caller reports when a run completes.
type RunInput struct {
	Task            string
	Outcome         string
	Actions         []Action
	Errors          []string
	Preferences     []string
	GoalStatus      GoalStatus
	ReasonForStatus string
	// AnswerRelevanceScore is optional; when nil it is derived from
	// GoalStatus.
	AnswerRelevanceScore *float64
	UsedTipIDs           []string
	Domain               string
}

// RunResult reports what a recorded run contributed to the store.
type RunResult struct {
	// Tips are the newly curated (and reflected, when synchronous)
	// candidate tips.
	Tips []Tip
	// Preferences are the sanitized preferences retained from this run.
	Preferences []string
}

// NewManager loads both documents (initializing them when missing,
// migrating older formats) and returns a ready engine. The reflector may be
// nil to disable enrichment.
func NewManager(ctx context.Context, cfg Config, storage Storage, reflector Reflector) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errs.Wrap(err, errs.ValidationFailed, "invalid engine config")
	}

	m := &Manager{
		cfg:       cfg,
		storage:   storage,
		curator:   NewCurator(),
		reflector: reflector,
		logger:    logging.GetLogger(),
	}

	guardrails, err := m.loadGuardrails(ctx)
	if err != nil {
		return nil, err
	}
	m.sanitizer = NewSanitizer(guardrails)

	if err := m.loadPlaybook(ctx); err != nil {
		return nil, err
	}

	return m, nil
}

// loadGuardrails reads the guardrails document, writing the built-in
// defaults once when it does not exist yet.
func (m *Manager) loadGuardrails(ctx context.Context) (Guardrails, error) {
	data, err := m.storage.LoadGuardrails(ctx)
	if err != nil {
		return Guardrails{}, err
	}
	if data == nil {
		g := DefaultGuardrails()
		encoded, err := json.MarshalIndent(g, "", "  ")
		if err != nil {
			return Guardrails{}, errs.Wrap(err, errs.StorageFailed, "failed to encode guardrails")
		}
		if err := m.storage.SaveGuardrails(ctx, encoded); err != nil {
			return Guardrails{}, err
		}
		m.logger.Info(ctx, "initialized guardrails document with built-in defaults")
		return g, nil
	}
	return DecodeGuardrails(data), nil
}

// loadPlaybook reads the playbook document, initializing it when missing
// and persisting immediately when migration changed anything.
func (m *Manager) loadPlaybook(ctx context.Context) error {
	data, err := m.storage.LoadPlaybook(ctx)
	if err != nil {
		return err
	}
	if data == nil {
		m.playbook = NewPlaybook()
		m.logger.Info(ctx, "initialized empty playbook document")
		return m.persist(ctx, m.playbook)
	}

	pb, migrated := DecodePlaybook(data)
	m.playbook = pb
	if migrated {
		m.logger.Info(ctx, "migrated playbook document (%d tips, %d entries)",
			len(pb.ActiveTips), len(pb.Entries))
		return m.persist(ctx, pb)
	}
	return nil
}

// persist writes the staged document through storage and, on success, swaps
// it in as the current in-memory state. Callers hold the lock (or are in
// NewManager before the store is shared).
func (m *Manager) persist(ctx context.Context, staged *Playbook) error {
	data, err := json.MarshalIndent(staged, "", "  ")
	if err != nil {
		return errs.Wrap(err, errs.StorageFailed, "failed to encode playbook")
	}
	if err := m.storage.SavePlaybook(ctx, data); err != nil {
		return err
	}
	m.playbook = staged
	return nil
}

// Overlay returns the prompt overlay for a task plus the identities of the
// tips it contains, for later feedback addressing. Retrieval refreshes
// lastUsed on the selected tips and re-runs decay and eviction, so it
// persists like any other mutation.
func (m *Manager) Overlay(ctx context.Context, task, domain string) (string, []string, error) {
	if domain == "" {
		domain = DefaultDomain
	}
	ctx = logging.WithDomain(ctx, domain)

	m.mu.Lock()
	defer m.mu.Unlock()

	staged := m.playbook.Clone()

	selected := selectTips(staged.ActiveTips, task, domain, m.cfg)

	tips := make([]Tip, 0, len(selected))
	usedIDs := make([]string, 0, len(selected))
	now := nowISO()
	for _, i := range selected {
		staged.ActiveTips[i].LastUsed = now
		tips = append(tips, staged.ActiveTips[i])
		usedIDs = append(usedIDs, staged.ActiveTips[i].ID)
	}

	staged.ActiveTips = evictTips(
		applyDecay(staged.ActiveTips, timeNow(), m.cfg.DecayPerDay),
		m.cfg.EvictBelow, m.cfg.MaxActiveTips)

	if err := m.persist(ctx, staged); err != nil {
		return "", nil, err
	}

	overlay := buildOverlay(tips, staged.Preferences, m.sanitizer.Notes())
	m.logger.Debug(ctx, "assembled overlay with %d tips", len(tips))
	return overlay, usedIDs, nil
}

// RecordRun ingests a completed run: sanitize, build the entry, append it,
// curate (and optionally reflect), merge, update preferences, apply
// feedback for the tips the run used, persist. Returns the curated tips and
// the retained preferences.
func (m *Manager) RecordRun(ctx context.Context, input RunInput) (*RunResult, error) {
	domain := input.Domain
	if domain == "" {
		domain = DefaultDomain
	}
	ctx = logging.WithDomain(ctx, domain)

	entry := m.buildEntry(input, domain)

	m.mu.Lock()
	defer m.mu.Unlock()

	staged := m.playbook.Clone()

	staged.Entries = append(staged.Entries, *entry)
	if m.cfg.MaxEntries > 0 && len(staged.Entries) > m.cfg.MaxEntries {
		staged.Entries = staged.Entries[len(staged.Entries)-m.cfg.MaxEntries:]
	}

	newTips := m.curator.Curate(entry)
	m.tipsCurated.Add(int64(len(newTips)))

	if m.reflector != nil && !m.cfg.AsyncReflection {
		newTips = append(newTips, m.reflect(ctx, entry)...)
	}

	staged.ActiveTips = evictTips(
		applyDecay(mergeTips(staged.ActiveTips, newTips), timeNow(), m.cfg.DecayPerDay),
		m.cfg.EvictBelow, m.cfg.MaxActiveTips)

	staged.Preferences = mergePreferences(staged.Preferences, entry.Preferences, m.cfg.MaxPreferences)

	applyFeedback(staged.ActiveTips, entry.UsedTipIDs, entry.GoalStatus)

	if err := m.persist(ctx, staged); err != nil {
		return nil, err
	}

	m.runsRecorded.Add(1)
	m.logger.Info(ctx, "recorded run %s: %d new tips, %d active",
		entry.ID, len(newTips), len(staged.ActiveTips))

	if m.reflector != nil && m.cfg.AsyncReflection {
		entryCopy := *entry
		m.wg.Go(func() {
			m.reflectAsync(&entryCopy)
		})
	}

	return &RunResult{Tips: newTips, Preferences: entry.Preferences}, nil
}

// buildEntry sanitizes every incoming field and assembles the immutable run
// record.
func (m *Manager) buildEntry(input RunInput, domain string) *RunEntry {
	task := m.sanitizer.SanitizeText(input.Task)

	actions := input.Actions
	if len(actions) > maxEntryActions {
		actions = actions[len(actions)-maxEntryActions:]
	}
	sanitizedActions := make([]Action, len(actions))
	for i, a := range actions {
		sanitizedActions[i] = m.sanitizer.SanitizeAction(a)
	}

	runErrors := input.Errors
	if len(runErrors) > maxEntryErrors {
		runErrors = runErrors[len(runErrors)-maxEntryErrors:]
	}

	prefs := m.sanitizer.SanitizeStrings(input.Preferences)
	if len(prefs) > maxEntryPreferences {
		prefs = prefs[:maxEntryPreferences]
	}

	status := input.GoalStatus
	if status == "" {
		status = StatusUnknown
	}

	usedTipIDs := input.UsedTipIDs
	if usedTipIDs == nil {
		usedTipIDs = []string{}
	}

	return &RunEntry{
		ID:                   uuid.New().String(),
		Task:                 task,
		Outcome:              m.sanitizer.SanitizeText(input.Outcome),
		Actions:              sanitizedActions,
		Errors:               m.sanitizer.SanitizeStrings(runErrors),
		Preferences:          prefs,
		Timestamp:            nowISO(),
		Signature:            TaskSignature(task),
		GoalStatus:           status,
		ReasonForStatus:      input.ReasonForStatus,
		AnswerRelevanceScore: relevanceScore(input.AnswerRelevanceScore, status, len(runErrors) > 0),
		UsedTipIDs:           usedTipIDs,
		Domain:               domain,
	}
}

// relevanceScore derives the answer relevance from the goal status when the
// caller did not measure one.
func relevanceScore(explicit *float64, status GoalStatus, hadErrors bool) float64 {
	if explicit != nil {
		return round2(math.Max(0, math.Min(1, *explicit)))
	}
	switch status {
	case StatusSuccess:
		if hadErrors {
			return 0.75
		}
		return 0.9
	case StatusPartial:
		return 0.6
	case StatusFailed, StatusBlocked:
		return 0.2
	default:
		return 0.5
	}
}

// reflect runs the reflector, swallowing failures: enrichment must never
// abort the curator's own tips.
func (m *Manager) reflect(ctx context.Context, entry *RunEntry) []Tip {
	tips, err := m.reflector.Reflect(ctx, entry)
	if err != nil {
		m.logger.Warn(ctx, "reflection failed, continuing without reflected tips: %v", err)
		return nil
	}
	if len(tips) > m.cfg.MaxReflectedTips {
		tips = tips[:m.cfg.MaxReflectedTips]
	}
	m.tipsReflected.Add(int64(len(tips)))
	return tips
}

// reflectAsync reflects on an entry in the background and merges whatever
// comes back under the store lock.
func (m *Manager) reflectAsync(entry *RunEntry) {
	ctx := logging.WithDomain(context.Background(), entry.Domain)

	tips := m.reflect(ctx, entry)
	if len(tips) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	staged := m.playbook.Clone()
	staged.ActiveTips = evictTips(
		applyDecay(mergeTips(staged.ActiveTips, tips), timeNow(), m.cfg.DecayPerDay),
		m.cfg.EvictBelow, m.cfg.MaxActiveTips)

	if err := m.persist(ctx, staged); err != nil {
		m.logger.Warn(ctx, "failed to persist reflected tips: %v", err)
	}
}

// ApplyFeedback adjusts confidence and usage counters for the tips a run
// actually used. Unknown identities are ignored; persists only when a tip
// was touched.
func (m *Manager) ApplyFeedback(ctx context.Context, usedTipIDs []string, status GoalStatus) error {
	if len(usedTipIDs) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	staged := m.playbook.Clone()
	if !applyFeedback(staged.ActiveTips, usedTipIDs, status) {
		return nil
	}

	if err := m.persist(ctx, staged); err != nil {
		return err
	}
	m.feedbackApplied.Add(1)
	return nil
}

// applyFeedback mutates the tips in place and reports whether any matched.
func applyFeedback(tips []Tip, usedTipIDs []string, status GoalStatus) bool {
	if len(usedTipIDs) == 0 {
		return false
	}

	used := make(map[string]bool, len(usedTipIDs))
	for _, id := range usedTipIDs {
		used[id] = true
	}

	touched := false
	for i := range tips {
		t := &tips[i]
		id := t.ID
		if id == "" {
			id = TipID(t.Tip, t.Domain)
		}
		if !used[id] {
			continue
		}
		switch status {
		case StatusSuccess:
			t.HelpfulCount++
			t.Confidence = round2(math.Min(maxConfidence, t.Confidence+feedbackDelta))
		case StatusFailed, StatusBlocked:
			t.HarmfulCount++
			t.Confidence = round2(math.Max(minConfidence, t.Confidence-feedbackDelta))
		default:
			continue
		}
		touched = true
	}
	return touched
}

// AddPreferences appends new standing preferences and persists.
func (m *Manager) AddPreferences(ctx context.Context, prefs []string) error {
	sanitized := m.sanitizer.SanitizeStrings(prefs)
	if len(sanitized) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	staged := m.playbook.Clone()
	staged.Preferences = mergePreferences(staged.Preferences, sanitized, m.cfg.MaxPreferences)
	return m.persist(ctx, staged)
}

// mergePreferences appends new, non-duplicate, non-empty preferences and
// keeps the first max entries: established preferences outrank newer ones.
func mergePreferences(existing, incoming []string, max int) []string {
	out := append([]string{}, existing...)
	seen := make(map[string]bool, len(out))
	for _, p := range out {
		seen[p] = true
	}
	for _, p := range incoming {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// Tips returns a copy of the active tips.
func (m *Manager) Tips() []Tip {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playbook.Clone().ActiveTips
}

// Entries returns a copy of the run history.
func (m *Manager) Entries() []RunEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playbook.Clone().Entries
}

// Preferences returns a copy of the standing preferences.
func (m *Manager) Preferences() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.playbook.Preferences...)
}

// GuardrailNotes returns the advisory notes surfaced in overlays.
func (m *Manager) GuardrailNotes() []string {
	return m.sanitizer.Notes()
}

// Export returns the current playbook document as indented JSON.
func (m *Manager) Export() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return json.MarshalIndent(m.playbook, "", "  ")
}

// Metrics returns engine counters.
func (m *Manager) Metrics() map[string]int64 {
	return map[string]int64{
		"runs_recorded":    m.runsRecorded.Load(),
		"tips_curated":     m.tipsCurated.Load(),
		"tips_reflected":   m.tipsReflected.Load(),
		"feedback_applied": m.feedbackApplied.Load(),
	}
}

// Close flushes pending background reflection and closes storage.
func (m *Manager) Close() error {
	m.wg.Wait()
	return m.storage.Close()
}
