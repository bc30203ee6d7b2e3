package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	submitFile       string
	submitTemplateID string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new RFP document and start its workflow",
	RunE:  runSubmit,
}

func init() {
	submitCmd.Flags().StringVarP(&submitFile, "file", "f", "", "path to the RFP document JSON (default: stdin)")
	submitCmd.Flags().StringVarP(&submitTemplateID, "template", "t", "", "workflow template id (optional, auto-selected if omitted)")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	var data []byte
	var err error
	if submitFile == "" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(submitFile)
	}
	if err != nil {
		return fmt.Errorf("rfpctl: read document: %w", err)
	}

	var document map[string]interface{}
	if err := json.Unmarshal(data, &document); err != nil {
		return fmt.Errorf("rfpctl: parse document: %w", err)
	}

	var out struct {
		WorkflowID string `json:"workflow_id"`
	}
	body := map[string]interface{}{"document": document, "template_id": submitTemplateID}
	if err := client().do(cmd.Context(), "POST", "/workflows", body, &out); err != nil {
		return err
	}
	fmt.Println(out.WorkflowID)
	return nil
}
