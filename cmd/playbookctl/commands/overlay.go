package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var overlayCmd = &cobra.Command{
	Use:   "overlay <task>",
	Short: "Preview the prompt overlay for a task",
	Long: `Assemble and print the overlay block that would be injected into an
agent prompt for the given task: matched tips, user preferences and guardrail
notes.

Note that retrieval counts as usage: it refreshes lastUsed on the matched
tips and persists the store.`,
	Args: cobra.ExactArgs(1),
	RunE: runOverlay,
}

func init() {
	rootCmd.AddCommand(overlayCmd)
}

func runOverlay(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	mgr, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer mgr.Close()

	overlay, usedIDs, err := mgr.Overlay(ctx, args[0], domainFlag)
	if err != nil {
		return err
	}

	fmt.Println(overlay)
	if len(usedIDs) > 0 {
		fmt.Printf("\n(%d tips matched: %v)\n", len(usedIDs), usedIDs)
	}
	return nil
}
