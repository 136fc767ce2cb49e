package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ace-agents/playbook/pkg/playbook"
)

var recordFile string

// recordPayload is the JSON shape an agent emits when a run completes.
type recordPayload struct {
	Task                 string            `json:"task"`
	Outcome              string            `json:"outcome"`
	Actions              []playbook.Action `json:"actions"`
	Errors               []string          `json:"errors"`
	Preferences          []string          `json:"preferences"`
	GoalStatus           string            `json:"goalStatus"`
	ReasonForStatus      string            `json:"reasonForStatus"`
	AnswerRelevanceScore *float64          `json:"answerRelevanceScore"`
	UsedTipIDs           []string          `json:"usedTipIds"`
	Domain               string            `json:"domain"`
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a completed run from a JSON payload",
	Long: `Ingest a completed run into the playbook store: sanitize it, append it
to the run history, curate tips from it and apply feedback for the tips it
used.

The payload is read from stdin, or from a file with --file:

  {"task": "check pricing page", "outcome": "Price is $10/mo",
   "goalStatus": "partial", "errors": ["timeout clicking selector"]}`,
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().StringVar(&recordFile, "file", "", "Read the run payload from a file instead of stdin")
	rootCmd.AddCommand(recordCmd)
}

func runRecord(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var data []byte
	var err error
	if recordFile != "" {
		data, err = os.ReadFile(recordFile)
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("failed to read run payload: %w", err)
	}

	var payload recordPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("failed to parse run payload: %w", err)
	}
	if payload.Task == "" {
		return fmt.Errorf("run payload is missing a task")
	}

	mgr, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer mgr.Close()

	domain := payload.Domain
	if domain == "" {
		domain = domainFlag
	}

	result, err := mgr.RecordRun(ctx, playbook.RunInput{
		Task:                 payload.Task,
		Outcome:              payload.Outcome,
		Actions:              payload.Actions,
		Errors:               payload.Errors,
		Preferences:          payload.Preferences,
		GoalStatus:           playbook.GoalStatus(payload.GoalStatus),
		ReasonForStatus:      payload.ReasonForStatus,
		AnswerRelevanceScore: payload.AnswerRelevanceScore,
		UsedTipIDs:           payload.UsedTipIDs,
		Domain:               domain,
	})
	if err != nil {
		return err
	}

	color.Green("✓ recorded run: %d new tips", len(result.Tips))
	for _, tip := range result.Tips {
		fmt.Printf("  %s  %.2f  %s\n", tip.ID, tip.Confidence, tip.Tip)
	}
	return nil
}
