package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Request cancellation of an in-progress run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := postJSON("/api/v1/runs/"+args[0]+"/cancel", nil, nil); err != nil {
			return err
		}
		fmt.Println("cancellation requested")
		return nil
	},
}
