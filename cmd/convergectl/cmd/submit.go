package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/balaji-balu/converge/pkg/model"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a desired-state document",
	Long:  `Submits a desired-state YAML document to the controller and starts a reconciliation run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		wait, _ := cmd.Flags().GetBool("wait")

		if file == "" {
			return fmt.Errorf("--file is required")
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		// Parse locally first so obvious mistakes fail before the request.
		ds, err := model.ParseDesiredState(data)
		if err != nil {
			return fmt.Errorf("malformed desired state: %w", err)
		}

		logger.Info("submitting desired state",
			zap.String("deployment", ds.DeploymentName),
			zap.Bool("wait", wait),
		)

		path := "/api/v1/deployments"
		if wait {
			path += "?wait=true"
			var run model.ReconciliationRun
			if err := postJSON(path, data, &run); err != nil {
				return err
			}
			printRun(&run)
			return nil
		}

		var resp struct {
			RunID string `json:"run_id"`
		}
		if err := postJSON(path, data, &resp); err != nil {
			return err
		}
		fmt.Println("run accepted:", resp.RunID)
		return nil
	},
}

func init() {
	submitCmd.Flags().StringP("file", "f", "", "desired-state YAML file")
	submitCmd.Flags().BoolP("wait", "w", false, "block until the run terminates")
}

func printRun(run *model.ReconciliationRun) {
	fmt.Printf("run %s  deployment=%s  outcome=%s\n", run.RunID, run.DeploymentName, run.Outcome)
	for _, rec := range run.Records {
		line := fmt.Sprintf("  %-40s %s", rec.ID, rec.Status)
		if rec.LastError != nil {
			line += fmt.Sprintf("  (%s: %s)", rec.LastError.Code, rec.LastError.Message)
		}
		fmt.Println(line)
	}
}
