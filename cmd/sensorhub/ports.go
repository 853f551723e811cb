// v0
// cmd/sensorhub/ports.go
package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"

	"github.com/reneeyyx/CareSphere/internal/config"
	"github.com/reneeyyx/CareSphere/internal/ingest"
)

func portsCmd(configPath *string) *cobra.Command {
	var match string
	cmd := &cobra.Command{
		Use:   "ports",
		Short: "List serial ports and mark the one auto-detect would pick",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("match") {
				cfg, err := config.Load(*configPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				match = cfg.SerialMatch
			}
			ports, err := ingest.ListPorts()
			if err != nil {
				return err
			}
			return printPorts(cmd, ports, match)
		},
	}
	cmd.Flags().StringVar(&match, "match", "", "product substring to match, defaults to serial_match")
	return cmd
}

func printPorts(cmd *cobra.Command, ports []*enumerator.PortDetails, match string) error {
	out := cmd.OutOrStdout()
	if len(ports) == 0 {
		_, err := fmt.Fprintln(out, "no serial ports found")
		return err
	}
	picked, _ := ingest.SelectPort(ports, match)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tPORT\tUSB\tVID:PID\tPRODUCT")
	for _, p := range ports {
		mark := ""
		if p == picked {
			mark = "*"
		}
		ids := "-"
		if p.IsUSB {
			ids = p.VID + ":" + p.PID
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", mark, p.Name, p.IsUSB, ids, p.Product)
	}
	return tw.Flush()
}
