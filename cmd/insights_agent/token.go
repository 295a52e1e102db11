package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkramer/session-insights/internal/server"
)

var (
	tokenClientID string
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an ingest API token",
	Long:  `Mint a bearer token signed with INGEST_JWT_SECRET for use with the submit and cancel endpoints.`,
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenClientID, "client-id", "cli", "Client identity embedded in the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	secret := os.Getenv("INGEST_JWT_SECRET")
	if secret == "" {
		return fmt.Errorf("INGEST_JWT_SECRET environment variable is required")
	}

	token, err := server.NewJWTService(secret, tokenTTL).GenerateToken(tokenClientID)
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}
	cmd.Println(token)
	return nil
}
