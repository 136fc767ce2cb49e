// Package playbook implements an adaptive memory engine for LLM-driven
// agents. Each completed run is distilled into scored, domain-scoped
// advisory "tips" that are retrieved and injected into future prompts,
// reinforced or weakened by the outcomes of the runs that used them.
//
// # Architecture
//
// The engine follows the Generator → Reflector → Curator loop:
//
//   - Sanitizer: redacts secrets and denylisted terms before anything is
//     persisted or surfaced (a hard boundary, not best-effort)
//   - Curator: derives candidate tips from a run's outcome, errors and
//     recent actions
//   - Reflector: optional LLM call proposing up to three extra tips; its
//     failure never affects curated tips
//   - Merger: collapses re-observed advice onto the same record by
//     deterministic identity, ages confidence over time, and bounds the
//     store to the highest-confidence tips
//   - Selector: scores tips against a task signature and assembles the
//     prompt overlay
//
// # Basic usage
//
//	storage := playbook.NewFileStorage("playbook.json", "guardrails.json")
//	mgr, err := playbook.NewManager(ctx, playbook.DefaultConfig(), storage, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Close()
//
//	// Before building a prompt:
//	overlay, usedIDs, _ := mgr.Overlay(ctx, "check pricing page", "shop")
//
//	// After the run completes:
//	result, err := mgr.RecordRun(ctx, playbook.RunInput{
//	    Task:       "check pricing page",
//	    Outcome:    "Price is $10/mo",
//	    GoalStatus: playbook.StatusPartial,
//	    UsedTipIDs: usedIDs,
//	    Domain:     "shop",
//	})
//
// # Identity
//
// A tip's identity is sha256("domain::text") truncated to twelve hex
// characters. Recording the same advice for the same domain updates the
// existing record instead of duplicating it, and feedback is addressed by
// identity without re-deriving text.
//
// # Persistence
//
// The whole store is written synchronously after every mutation. Three
// backends implement the Storage interface: JSON files (default), SQLite
// and Redis. Malformed documents load as empty rather than failing, so the
// engine always starts in a valid state.
package playbook
