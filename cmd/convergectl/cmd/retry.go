package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var retryCmd = &cobra.Command{
	Use:   "retry <deployment>",
	Short: "Resume a partially failed run",
	Long:  `Resets failed resources to pending, re-verifies anything left mid-operation, and resumes the latest run for the deployment.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			RunID string `json:"run_id"`
		}
		if err := postJSON("/api/v1/deployments/"+args[0]+"/retry", nil, &resp); err != nil {
			return err
		}
		fmt.Println("retry started:", resp.RunID)
		return nil
	},
}
