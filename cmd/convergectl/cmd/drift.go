package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/balaji-balu/converge/pkg/model"
)

var driftCmd = &cobra.Command{
	Use:   "drift <deployment>",
	Short: "Show the most recent drift report for a deployment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		check, _ := cmd.Flags().GetBool("check")

		path := "/api/v1/deployments/" + args[0] + "/drift"
		var rep model.DriftReport
		if check {
			if err := postJSON(path+"/check", nil, &rep); err != nil {
				return err
			}
		} else {
			if err := getJSON(path, &rep); err != nil {
				return err
			}
		}

		if rep.DeploymentName == "" {
			fmt.Println("not yet checked")
			return nil
		}
		if !rep.Drifted() {
			fmt.Printf("no drift (checked %s)\n", rep.CheckedAt.Format("2006-01-02 15:04:05"))
			return nil
		}
		fmt.Printf("drift detected (checked %s):\n", rep.CheckedAt.Format("2006-01-02 15:04:05"))
		for id, changes := range rep.Resources {
			for _, ch := range changes {
				fmt.Printf("  %-40s %s: expected %q, actual %q\n", id, ch.Field, ch.Expected, ch.Actual)
			}
		}
		return nil
	},
}

func init() {
	driftCmd.Flags().Bool("check", false, "trigger an immediate check instead of reading the last report")
}
