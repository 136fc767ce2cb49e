package playbook

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/ace-agents/playbook/pkg/errors"
)

func newFileManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	storage := NewFileStorage(filepath.Join(dir, "playbook.json"), filepath.Join(dir, "guardrails.json"))
	mgr, err := NewManager(context.Background(), DefaultConfig(), storage, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr, dir
}

type reflectorFunc func(ctx context.Context, entry *RunEntry) ([]Tip, error)

func (f reflectorFunc) Reflect(ctx context.Context, entry *RunEntry) ([]Tip, error) {
	return f(ctx, entry)
}

func TestNewManagerInitializesDocuments(t *testing.T) {
	_, dir := newFileManager(t)

	// Both documents are written immediately when missing.
	_, err := os.Stat(filepath.Join(dir, "playbook.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "guardrails.json"))
	assert.NoError(t, err)
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxActiveTips = 0

	dir := t.TempDir()
	storage := NewFileStorage(filepath.Join(dir, "p.json"), filepath.Join(dir, "g.json"))
	_, err := NewManager(context.Background(), cfg, storage, nil)
	assert.Error(t, err)
}

func TestRecordRunEndToEnd(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newFileManager(t)

	result, err := mgr.RecordRun(ctx, RunInput{
		Task:       "check pricing page",
		Outcome:    "Price is $10/mo",
		Errors:     []string{"timeout clicking selector"},
		GoalStatus: StatusPartial,
		Domain:     "d1",
	})
	require.NoError(t, err)

	// Outcome tip and error tip at least
	require.GreaterOrEqual(t, len(result.Tips), 2)
	for _, tip := range result.Tips {
		assert.Equal(t, "d1", tip.Domain)
	}

	// A similar task retrieves the outcome tip
	overlay, usedIDs, err := mgr.Overlay(ctx, "check pricing", "d1")
	require.NoError(t, err)
	assert.Contains(t, overlay, "Price is $10/mo")
	assert.NotEmpty(t, usedIDs)

	// Negative feedback on the error tip: -0.05, harmful +1
	var errorTip Tip
	for _, tip := range result.Tips {
		if tip.Confidence == 0.7 {
			errorTip = tip
		}
	}
	require.NotEmpty(t, errorTip.ID)

	_, err = mgr.RecordRun(ctx, RunInput{
		Task:       "check pricing page again",
		GoalStatus: StatusBlocked,
		UsedTipIDs: []string{errorTip.ID},
		Domain:     "d1",
	})
	require.NoError(t, err)

	var after Tip
	for _, tip := range mgr.Tips() {
		if tip.ID == errorTip.ID {
			after = tip
		}
	}
	require.NotEmpty(t, after.ID)
	assert.InDelta(t, errorTip.Confidence-0.05, after.Confidence, 0.001)
	assert.Equal(t, 1, after.HarmfulCount)
}

func TestRecordRunSanitizesBeforePersist(t *testing.T) {
	ctx := context.Background()
	mgr, dir := newFileManager(t)

	_, err := mgr.RecordRun(ctx, RunInput{
		Task:       "login with api_key: sk-ABCDEFGHIJKLMNOPQRSTUVWX",
		Outcome:    "used Bearer abc.def.ghi to auth",
		GoalStatus: StatusSuccess,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "playbook.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-ABCDEFGHIJKLMNOPQRSTUVWX")
	assert.NotContains(t, string(data), "abc.def.ghi")
}

func TestRecordRunDefaultsDomainAndStatus(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newFileManager(t)

	_, err := mgr.RecordRun(ctx, RunInput{Task: "quiet run"})
	require.NoError(t, err)

	entries := mgr.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, DefaultDomain, entries[0].Domain)
	assert.Equal(t, StatusUnknown, entries[0].GoalStatus)
	assert.Equal(t, 0.5, entries[0].AnswerRelevanceScore)
}

func TestRecordRunRelevanceDefaults(t *testing.T) {
	tests := []struct {
		name     string
		input    RunInput
		expected float64
	}{
		{"success", RunInput{Task: "t", GoalStatus: StatusSuccess}, 0.9},
		{"success with errors", RunInput{Task: "t", GoalStatus: StatusSuccess, Errors: []string{"e"}}, 0.75},
		{"partial", RunInput{Task: "t", GoalStatus: StatusPartial}, 0.6},
		{"failed", RunInput{Task: "t", GoalStatus: StatusFailed}, 0.2},
		{"blocked", RunInput{Task: "t", GoalStatus: StatusBlocked}, 0.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			mgr, _ := newFileManager(t)

			_, err := mgr.RecordRun(ctx, tt.input)
			require.NoError(t, err)

			entries := mgr.Entries()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.expected, entries[0].AnswerRelevanceScore)
		})
	}
}

func TestRecordRunExplicitRelevanceKept(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newFileManager(t)

	score := 0.42
	_, err := mgr.RecordRun(ctx, RunInput{Task: "t", GoalStatus: StatusSuccess, AnswerRelevanceScore: &score})
	require.NoError(t, err)

	assert.Equal(t, 0.42, mgr.Entries()[0].AnswerRelevanceScore)
}

func TestRecordRunBoundsEntryLists(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newFileManager(t)

	input := RunInput{Task: "busy run", GoalStatus: StatusSuccess}
	for i := 0; i < 60; i++ {
		input.Actions = append(input.Actions, Action{Tool: "click"})
	}
	for i := 0; i < 30; i++ {
		input.Errors = append(input.Errors, "boom")
	}
	for i := 0; i < 15; i++ {
		input.Preferences = append(input.Preferences, "pref")
	}

	_, err := mgr.RecordRun(ctx, input)
	require.NoError(t, err)

	entry := mgr.Entries()[0]
	assert.Len(t, entry.Actions, maxEntryActions)
	assert.Len(t, entry.Errors, maxEntryErrors)
	assert.Len(t, entry.Preferences, maxEntryPreferences)

	// The standing preference list still dedupes.
	assert.Equal(t, []string{"pref"}, mgr.Preferences())
}

func TestFeedbackBounds(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newFileManager(t)

	result, err := mgr.RecordRun(ctx, RunInput{
		Task:       "check pricing",
		Outcome:    "fine",
		GoalStatus: StatusSuccess,
		Domain:     "d1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Tips)
	id := result.Tips[0].ID

	for i := 0; i < 30; i++ {
		require.NoError(t, mgr.ApplyFeedback(ctx, []string{id}, StatusSuccess))
	}
	tip := findTip(t, mgr, id)
	assert.Equal(t, maxConfidence, tip.Confidence)
	assert.Equal(t, 30, tip.HelpfulCount)

	for i := 0; i < 40; i++ {
		require.NoError(t, mgr.ApplyFeedback(ctx, []string{id}, StatusFailed))
	}
	tip = findTip(t, mgr, id)
	assert.Equal(t, minConfidence, tip.Confidence)
	assert.Equal(t, 40, tip.HarmfulCount)
}

func findTip(t *testing.T, mgr *Manager, id string) Tip {
	t.Helper()
	for _, tip := range mgr.Tips() {
		if tip.ID == id {
			return tip
		}
	}
	t.Fatalf("tip %s not found", id)
	return Tip{}
}

func TestFeedbackUnknownIdentityNoop(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newFileManager(t)

	assert.NoError(t, mgr.ApplyFeedback(ctx, []string{"does-not-exist"}, StatusSuccess))
	assert.NoError(t, mgr.ApplyFeedback(ctx, nil, StatusSuccess))
}

func TestFeedbackNeutralStatusLeavesTipAlone(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newFileManager(t)

	result, err := mgr.RecordRun(ctx, RunInput{Task: "t", Outcome: "o", GoalStatus: StatusSuccess})
	require.NoError(t, err)
	id := result.Tips[0].ID
	before := findTip(t, mgr, id)

	require.NoError(t, mgr.ApplyFeedback(ctx, []string{id}, StatusPartial))
	after := findTip(t, mgr, id)
	assert.Equal(t, before.Confidence, after.Confidence)
	assert.Equal(t, before.HelpfulCount, after.HelpfulCount)
}

func TestAddPreferences(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newFileManager(t)

	require.NoError(t, mgr.AddPreferences(ctx, []string{"metric units", "metric units", ""}))
	assert.Equal(t, []string{"metric units"}, mgr.Preferences())

	// Capacity keeps the oldest entries
	var many []string
	for i := 0; i < 20; i++ {
		many = append(many, string(rune('a'+i)))
	}
	require.NoError(t, mgr.AddPreferences(ctx, many))

	prefs := mgr.Preferences()
	assert.Len(t, prefs, DefaultConfig().MaxPreferences)
	assert.Equal(t, "metric units", prefs[0])
}

func TestOverlayRefreshesAndPersists(t *testing.T) {
	ctx := context.Background()
	mgr, dir := newFileManager(t)

	_, err := mgr.RecordRun(ctx, RunInput{Task: "check pricing", Outcome: "ok", GoalStatus: StatusSuccess, Domain: "d1"})
	require.NoError(t, err)

	before, err := os.ReadFile(filepath.Join(dir, "playbook.json"))
	require.NoError(t, err)

	orig := timeNow
	timeNow = func() time.Time { return orig().Add(2 * time.Second) }
	defer func() { timeNow = orig }()

	_, usedIDs, err := mgr.Overlay(ctx, "check pricing", "d1")
	require.NoError(t, err)
	require.NotEmpty(t, usedIDs)

	after, err := os.ReadFile(filepath.Join(dir, "playbook.json"))
	require.NoError(t, err)
	assert.NotEqual(t, string(before), string(after), "retrieval refreshes lastUsed and persists")
}

func TestOverlayDomainIsolation(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newFileManager(t)

	_, err := mgr.RecordRun(ctx, RunInput{Task: "check pricing", Outcome: "team A data", GoalStatus: StatusSuccess, Domain: "teamA"})
	require.NoError(t, err)

	overlay, usedIDs, err := mgr.Overlay(ctx, "check pricing", "teamB")
	require.NoError(t, err)
	assert.Empty(t, usedIDs)
	assert.NotContains(t, overlay, "team A data")
}

func TestOverlayIncludesGuardrailNotes(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newFileManager(t)

	overlay, _, err := mgr.Overlay(ctx, "anything", "d1")
	require.NoError(t, err)
	assert.Contains(t, overlay, guardrailsHeader)
}

type failingStorage struct {
	*FileStorage
	fail bool
}

func (f *failingStorage) SavePlaybook(ctx context.Context, data []byte) error {
	if f.fail {
		return errs.New(errs.StorageFailed, "disk full")
	}
	return f.FileStorage.SavePlaybook(ctx, data)
}

func TestPersistFailureLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	storage := &failingStorage{
		FileStorage: NewFileStorage(filepath.Join(dir, "p.json"), filepath.Join(dir, "g.json")),
	}

	mgr, err := NewManager(ctx, DefaultConfig(), storage, nil)
	require.NoError(t, err)

	_, err = mgr.RecordRun(ctx, RunInput{Task: "first", Outcome: "ok", GoalStatus: StatusSuccess})
	require.NoError(t, err)
	tipsBefore := mgr.Tips()
	entriesBefore := len(mgr.Entries())

	storage.fail = true
	_, err = mgr.RecordRun(ctx, RunInput{Task: "second", Outcome: "boom", GoalStatus: StatusFailed})
	require.Error(t, err)
	assert.Equal(t, errs.StorageFailed, errs.CodeOf(err))

	// No partial merge state is visible after the failure.
	assert.Equal(t, tipsBefore, mgr.Tips())
	assert.Equal(t, entriesBefore, len(mgr.Entries()))
}

func TestReflectorFailureSwallowed(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	storage := NewFileStorage(filepath.Join(dir, "p.json"), filepath.Join(dir, "g.json"))

	reflector := reflectorFunc(func(ctx context.Context, entry *RunEntry) ([]Tip, error) {
		return nil, errs.New(errs.ReflectionFailed, "model unavailable")
	})

	mgr, err := NewManager(ctx, DefaultConfig(), storage, reflector)
	require.NoError(t, err)

	result, err := mgr.RecordRun(ctx, RunInput{Task: "t", Outcome: "o", GoalStatus: StatusSuccess})
	require.NoError(t, err)
	// Curated tips survive the reflector failure
	assert.NotEmpty(t, result.Tips)
}

func TestSynchronousReflectionMerged(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	storage := NewFileStorage(filepath.Join(dir, "p.json"), filepath.Join(dir, "g.json"))

	reflector := reflectorFunc(func(ctx context.Context, entry *RunEntry) ([]Tip, error) {
		return []Tip{NewTip("reflected wisdom", entry.Signature, entry.Task, 0.6, entry.Domain)}, nil
	})

	mgr, err := NewManager(ctx, DefaultConfig(), storage, reflector)
	require.NoError(t, err)

	result, err := mgr.RecordRun(ctx, RunInput{Task: "check pricing", Outcome: "ok", GoalStatus: StatusSuccess, Domain: "d1"})
	require.NoError(t, err)

	var found bool
	for _, tip := range result.Tips {
		if tip.Tip == "reflected wisdom" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAsyncReflectionMergedAfterClose(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	storage := NewFileStorage(filepath.Join(dir, "p.json"), filepath.Join(dir, "g.json"))

	reflector := reflectorFunc(func(ctx context.Context, entry *RunEntry) ([]Tip, error) {
		return []Tip{NewTip("async wisdom", entry.Signature, entry.Task, 0.6, entry.Domain)}, nil
	})

	cfg := DefaultConfig()
	cfg.AsyncReflection = true
	mgr, err := NewManager(ctx, cfg, storage, reflector)
	require.NoError(t, err)

	result, err := mgr.RecordRun(ctx, RunInput{Task: "check pricing", Outcome: "ok", GoalStatus: StatusSuccess, Domain: "d1"})
	require.NoError(t, err)

	// The synchronous result carries only curated tips.
	for _, tip := range result.Tips {
		assert.NotEqual(t, "async wisdom", tip.Tip)
	}

	require.NoError(t, mgr.Close())

	found := false
	for _, tip := range mgr.Tips() {
		if tip.Tip == "async wisdom" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestMaxEntriesRetention(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	storage := NewFileStorage(filepath.Join(dir, "p.json"), filepath.Join(dir, "g.json"))

	cfg := DefaultConfig()
	cfg.MaxEntries = 3
	mgr, err := NewManager(ctx, cfg, storage, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := mgr.RecordRun(ctx, RunInput{Task: "run", GoalStatus: StatusSuccess})
		require.NoError(t, err)
	}

	assert.Len(t, mgr.Entries(), 3)
}

func TestStoreReloadable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	pPath := filepath.Join(dir, "p.json")
	gPath := filepath.Join(dir, "g.json")

	mgr, err := NewManager(ctx, DefaultConfig(), NewFileStorage(pPath, gPath), nil)
	require.NoError(t, err)

	result, err := mgr.RecordRun(ctx, RunInput{
		Task: "check pricing", Outcome: "ok", GoalStatus: StatusSuccess, Domain: "d1",
		Preferences: []string{"metric units"},
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Close())

	// A fresh manager reconstructs the identical store from disk.
	reloaded, err := NewManager(ctx, DefaultConfig(), NewFileStorage(pPath, gPath), nil)
	require.NoError(t, err)

	assert.Equal(t, mgr.Tips(), reloaded.Tips())
	assert.Equal(t, []string{"metric units"}, reloaded.Preferences())
	require.Len(t, reloaded.Entries(), 1)
	assert.Equal(t, result.Tips[0].Domain, reloaded.Tips()[0].Domain)
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newFileManager(t)

	_, err := mgr.RecordRun(ctx, RunInput{Task: "t", Outcome: "o", GoalStatus: StatusSuccess})
	require.NoError(t, err)

	metrics := mgr.Metrics()
	assert.Equal(t, int64(1), metrics["runs_recorded"])
	assert.GreaterOrEqual(t, metrics["tips_curated"], int64(1))
}

func TestConcurrentRecordAndOverlay(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newFileManager(t)

	done := make(chan struct{})
	for w := 0; w < 4; w++ {
		go func(w int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 10; i++ {
				_, _ = mgr.RecordRun(ctx, RunInput{Task: "check pricing", Outcome: "ok", GoalStatus: StatusSuccess, Domain: "d1"})
				_, _, _ = mgr.Overlay(ctx, "check pricing", "d1")
			}
		}(w)
	}
	for w := 0; w < 4; w++ {
		<-done
	}

	// Capacity bound holds under concurrency.
	assert.LessOrEqual(t, len(mgr.Tips()), DefaultConfig().MaxActiveTips)
	assert.Len(t, mgr.Entries(), 40)
}
