package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var (
	submitServer string
	submitToken  string
)

var submitCmd = &cobra.Command{
	Use:   "submit <recording-file>",
	Short: "Submit a recording to a running pipeline",
	Long:  `Upload a session recording to a running insights_agent server and print the created session.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitServer, "server", "http://localhost:8080", "Server base URL")
	submitCmd.Flags().StringVar(&submitToken, "token", "", "Bearer token for the ingest API")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read recording: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, submitServer+"/sessions", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if submitToken != "" {
		req.Header.Set("Authorization", "Bearer "+submitToken)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body)
	}

	return printJSON(cmd, body)
}

// printJSON re-indents a JSON response for terminal output.
func printJSON(cmd *cobra.Command, body []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		cmd.Println(string(body))
		return nil
	}
	cmd.Println(buf.String())
	return nil
}
