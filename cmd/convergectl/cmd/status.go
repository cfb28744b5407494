package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/balaji-balu/converge/pkg/model"
)

var statusCmd = &cobra.Command{
	Use:   "status [deployment]",
	Short: "Show the latest reconciliation run for a deployment",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, _ := cmd.Flags().GetString("run")
		history, _ := cmd.Flags().GetBool("history")

		switch {
		case runID != "":
			var run model.ReconciliationRun
			if err := getJSON("/api/v1/runs/"+runID, &run); err != nil {
				return err
			}
			printRun(&run)
		case len(args) == 1 && history:
			var runs []model.ReconciliationRun
			if err := getJSON("/api/v1/deployments/"+args[0]+"/history", &runs); err != nil {
				return err
			}
			for i := range runs {
				printRun(&runs[i])
			}
		case len(args) == 1:
			var run model.ReconciliationRun
			if err := getJSON("/api/v1/deployments/"+args[0], &run); err != nil {
				return err
			}
			printRun(&run)
		default:
			return fmt.Errorf("a deployment name or --run is required")
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().String("run", "", "look up by run id instead of deployment name")
	statusCmd.Flags().Bool("history", false, "show all runs for the deployment")
}
