// Package main provides the entry point for the Session Insights pipeline
// service.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "insights_agent",
	Short: "Session Insights pipeline service",
	Long:  "Session Insights turns uploaded therapy session recordings into speaker-labeled transcripts and structured clinical insights via an asynchronous processing pipeline.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
