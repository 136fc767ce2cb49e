package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Dump the playbook document as JSON",
	Long: `Print the full playbook document (run history, active tips and
preferences) to stdout as indented JSON, for backup or inspection.`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	mgr, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer mgr.Close()

	data, err := mgr.Export()
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
