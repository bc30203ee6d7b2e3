package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <workflow-id>",
	Short: "Show a workflow's current state",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	var wf map[string]interface{}
	if err := client().do(cmd.Context(), "GET", "/workflows/"+args[0], nil, &wf); err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(wf)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflows, optionally filtered",
	RunE:  runList,
}

var (
	listStatus     string
	listTemplateID string
)

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	listCmd.Flags().StringVar(&listTemplateID, "template", "", "filter by template id")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	path := "/workflows"
	if listStatus != "" || listTemplateID != "" {
		path += "?status=" + listStatus + "&template_id=" + listTemplateID
	}
	var workflows []map[string]interface{}
	if err := client().do(cmd.Context(), "GET", path, nil, &workflows); err != nil {
		return err
	}
	for _, wf := range workflows {
		fmt.Printf("%v\t%v\t%v\n", wf["workflow_id"], wf["status"], wf["template_id"])
	}
	return nil
}
