// v0
// cmd/sensorhub/main.go
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	rootCmd := &cobra.Command{
		Use:           "sensorhub",
		Short:         "Ingest Arduino sensor readings and serve them over HTTP",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (.properties or .yaml), defaults to SENSORHUB_CONFIG_PATH or sensorhub.properties")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(portsCmd(&configPath))
	rootCmd.AddCommand(simulateCmd())
	return rootCmd
}
