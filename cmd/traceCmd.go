package cmd

import (
	"fmt"
	"net/netip"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"Multipath/pkg/policy"
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Trace a packet through the planned tables",
	Long: `Simulate a packet leaving a node: policy rules on the origin, then connected
subnets and main table routes hop by hop.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filepath, _ := cmd.Flags().GetString("from")
		src, _ := cmd.Flags().GetString("node")
		to, _ := cmd.Flags().GetString("to")
		proto, _ := cmd.Flags().GetString("proto")
		source, _ := cmd.Flags().GetString("source")

		dst, err := netip.ParseAddr(to)
		if err != nil {
			return errors.Wrap(err, "invalid destination")
		}
		pr, err := policy.ParseProtocol(proto)
		if err != nil {
			return err
		}
		pkt := policy.Packet{Protocol: pr, Dst: dst}
		if source != "" {
			if pkt.Src, err = netip.ParseAddr(source); err != nil {
				return errors.Wrap(err, "invalid source")
			}
		}

		p, err := planner().Plan(filepath)
		if err != nil {
			return err
		}
		res, err := p.Trace(src, pkt)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for i, h := range res.Hops {
			fmt.Fprintf(out, "%2d  %s\n", i+1, h)
		}
		if res.Delivered() {
			fmt.Fprintf(out, "delivered at %s\n", res.At)
			return nil
		}
		return errors.Errorf("stopped at %s: %s", res.At, res.Reason)
	},
}

func init() {
	rootCmd.AddCommand(traceCmd)
	traceCmd.Flags().StringP("from", "f", "", "Path to the topology configuration file")
	traceCmd.Flags().String("node", "", "Node the packet leaves from")
	traceCmd.Flags().String("to", "", "Destination address")
	traceCmd.Flags().String("proto", "else", "Protocol: tcp, udp, icmp or else")
	traceCmd.Flags().String("source", "", "Source address, selects source based rules")
	_ = traceCmd.MarkFlagRequired("from")
	_ = traceCmd.MarkFlagRequired("node")
	_ = traceCmd.MarkFlagRequired("to")
}
