package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var tipsJSON bool

var tipsCmd = &cobra.Command{
	Use:   "tips",
	Short: "List the active curated tips",
	Long: `List the active tips in the playbook store, with identity, domain,
confidence and feedback counters.

Use --domain to restrict the listing, --json for machine-readable output.`,
	RunE: runTips,
}

func init() {
	tipsCmd.Flags().BoolVar(&tipsJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(tipsCmd)
}

func runTips(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	mgr, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer mgr.Close()

	tips := mgr.Tips()
	if domainFlag != "" {
		filtered := tips[:0]
		for _, tip := range tips {
			if tip.Domain == domainFlag {
				filtered = append(filtered, tip)
			}
		}
		tips = filtered
	}

	if tipsJSON {
		data, err := json.MarshalIndent(tips, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(tips) == 0 {
		fmt.Println("No active tips.")
		fmt.Println()
		fmt.Println("Run 'playbookctl record' to feed completed runs into the store.")
		return nil
	}

	header := color.New(color.Bold)
	header.Printf("%-14s %-12s %-6s %-4s %-4s %-12s %s\n",
		"ID", "DOMAIN", "CONF", "+", "-", "LAST USED", "TIP")

	confColor := func(c float64) *color.Color {
		switch {
		case c >= 0.7:
			return color.New(color.FgGreen)
		case c >= 0.4:
			return color.New(color.FgYellow)
		default:
			return color.New(color.FgRed)
		}
	}

	for _, tip := range tips {
		text := tip.Tip
		if len(text) > 60 {
			text = text[:57] + "..."
		}
		fmt.Printf("%-14s %-12s ", tip.ID, tip.Domain)
		confColor(tip.Confidence).Printf("%-6.2f", tip.Confidence)
		fmt.Printf(" %-4d %-4d %-12s %s\n",
			tip.HelpfulCount, tip.HarmfulCount, formatAge(tip.LastUsed), text)
	}

	return nil
}

// formatAge renders an ISO timestamp as a short relative age.
func formatAge(iso string) string {
	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return "-"
	}
	d := time.Since(t).Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours())/24)
	}
}
