package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"Multipath/pkg"
	"Multipath/pkg/emit"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the configuration script",
	Long:  `Plan a topology file, report validation findings and print the per-node commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filepath, _ := cmd.Flags().GetString("from")

		p, err := planner().Plan(filepath)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		pkg.ShowFindings(out, p)

		script, err := emit.Emit(p)
		if err != nil {
			return err
		}
		fmt.Fprint(out, script)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().StringP("from", "f", "", "Path to the topology configuration file")
	_ = planCmd.MarkFlagRequired("from")
}
