// Command rfpctl is the operator CLI for a running coreserver: submit,
// status, list, cancel, approve, and dlq inspection, grounded on
// zjrosen-perles' cobra cmd/ layout (one file per subcommand, each
// registering itself to rootCmd from init()).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var addr string

var rootCmd = &cobra.Command{
	Use:   "rfpctl",
	Short: "Operate a running rfpflow coreserver",
	Long:  "rfpctl drives a coreserver's operator HTTP surface: submit RFPs, inspect and cancel workflows, resolve approval gates, and requeue dead-lettered messages.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8080", "coreserver operator address")
}

func client() *apiClient {
	return newAPIClient(addr)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
