package main

import (
	"github.com/spf13/cobra"
)

var cancelReason string

var cancelCmd = &cobra.Command{
	Use:   "cancel <workflow-id>",
	Short: "Cancel a running workflow",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	cancelCmd.Flags().StringVarP(&cancelReason, "reason", "r", "", "reason recorded on the audit trail")
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	body := map[string]string{"reason": cancelReason}
	return client().do(cmd.Context(), "DELETE", "/workflows/"+args[0], body, nil)
}
