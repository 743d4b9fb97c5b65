package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"Multipath/pkg"
	"Multipath/pkg/apply"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply Topology",
	Long: `Plan a topology file, build it on the selected backend and configure every node.
Unless --detach is given the topology stays up until SIGINT/SIGTERM and is then removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filepath, _ := cmd.Flags().GetString("from")
		detach, _ := cmd.Flags().GetBool("detach")

		host, cleanup, err := newHost()
		if err != nil {
			return err
		}
		c := pkg.NewCalculator(host, logger, options)

		results, err := c.ApplyTopoConfig(cmd.Context(), filepath)
		if err != nil {
			cleanup()
			return err
		}
		out := cmd.OutOrStdout()
		for _, r := range apply.Failed(results) {
			fmt.Fprintf(out, "FAILED %s: %s: %v\n", r.Command.Node, r.Command.Line, r.Err)
		}
		fmt.Fprintln(out, apply.Summary(results))

		if detach {
			return nil
		}
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		logger.Info("topology is up, waiting for signal")
		// wait, before shutting down, clear up the resources
		sig := <-stop
		logger.Info("shutting down", zap.String("signal", sig.String()))
		cleanup()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(applyCmd)
	applyCmd.Flags().StringP("from", "f", "", "Path to the topology configuration file")
	applyCmd.Flags().Bool("detach", false, "Leave the topology running and exit")
	_ = applyCmd.MarkFlagRequired("from")
}
