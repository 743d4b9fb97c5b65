package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"Multipath/pkg"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show Resources",
	Long:  `Show the planned resources of a topology: nodes, links, paths, routes or rules.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filepath, _ := cmd.Flags().GetString("from")
		class, _ := cmd.Flags().GetString("class")

		p, err := planner().Plan(filepath)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		switch class {
		case "nodes":
			pkg.ShowNodes(out, p)
		case "links":
			pkg.ShowLinks(out, p)
		case "paths":
			pkg.ShowPaths(out, p)
		case "routes":
			pkg.ShowRoutes(out, p)
		case "rules":
			pkg.ShowRules(out, p)
		case "findings":
			pkg.ShowFindings(out, p)
		default:
			return errors.Errorf("invalid class %q", class)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().StringP("from", "f", "", "Path to the topology configuration file")
	showCmd.Flags().String("class", "nodes", "Class of the element to show")
	_ = showCmd.MarkFlagRequired("from")
}
