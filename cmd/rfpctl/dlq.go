package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and requeue dead-lettered messages",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered messages",
	RunE:  runDLQList,
}

var dlqRequeueCmd = &cobra.Command{
	Use:   "requeue <message-id>",
	Short: "Resend a dead-lettered message for another delivery attempt",
	Args:  cobra.ExactArgs(1),
	RunE:  runDLQRequeue,
}

func init() {
	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqRequeueCmd)
	rootCmd.AddCommand(dlqCmd)
}

func runDLQList(cmd *cobra.Command, args []string) error {
	var records []map[string]interface{}
	if err := client().do(cmd.Context(), "GET", "/dlq", nil, &records); err != nil {
		return err
	}
	for _, rec := range records {
		env, _ := rec["envelope"].(map[string]interface{})
		fmt.Printf("%v\tattempts=%v\tlast_error=%v\n", env["message_id"], rec["attempts"], rec["last_error"])
	}
	return nil
}

func runDLQRequeue(cmd *cobra.Command, args []string) error {
	return client().do(cmd.Context(), "POST", "/dlq/"+args[0]+"/requeue", nil, nil)
}
