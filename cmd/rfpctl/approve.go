package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	approveStage    string
	approveApprover string
	approveComment  string
)

var approveCmd = &cobra.Command{
	Use:   "approve <workflow-id> <approve|reject|request_revision>",
	Short: "Resolve an approval gate a workflow is waiting on",
	Args:  cobra.ExactArgs(2),
	RunE:  runApprove,
}

func init() {
	approveCmd.Flags().StringVar(&approveStage, "stage", "", "the stage name the approval gate is waiting on")
	approveCmd.Flags().StringVar(&approveApprover, "approver", "", "identity recorded as the approver")
	approveCmd.Flags().StringVar(&approveComment, "comment", "", "optional comment recorded on the audit trail")
	rootCmd.AddCommand(approveCmd)
}

func runApprove(cmd *cobra.Command, args []string) error {
	decision := args[1]
	switch decision {
	case "approve", "reject", "request_revision":
	default:
		return fmt.Errorf("rfpctl: decision must be approve, reject, or request_revision, got %q", decision)
	}
	body := map[string]string{
		"stage":    approveStage,
		"decision": decision,
		"approver": approveApprover,
		"comment":  approveComment,
	}
	return client().do(cmd.Context(), "POST", "/workflows/"+args[0]+"/approval", body, nil)
}
