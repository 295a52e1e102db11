package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mkramer/session-insights/internal/artifact"
	"github.com/mkramer/session-insights/internal/capability"
	"github.com/mkramer/session-insights/internal/channel"
	"github.com/mkramer/session-insights/internal/config"
	"github.com/mkramer/session-insights/internal/ledger"
	"github.com/mkramer/session-insights/internal/logger"
	"github.com/mkramer/session-insights/internal/orchestrator"
	"github.com/mkramer/session-insights/internal/server"
	"github.com/mkramer/session-insights/internal/worker"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pipeline and its REST API server",
	Long:  `Start the full pipeline: the HTTP ingest/query API, the orchestrator, and the extraction, transcription, and analysis workers.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Port = servePort
	}
	if cfg.AssemblyAIKey == "" {
		return fmt.Errorf("ASSEMBLYAI_API_KEY environment variable is required")
	}
	if cfg.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	log := logger.New()
	ctx := context.Background()

	var (
		led   ledger.Ledger
		store artifact.Store
	)
	if cfg.DatabaseURL != "" {
		pool, err := ledger.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()

		led, err = ledger.NewPostgresLedger(ctx, pool)
		if err != nil {
			return fmt.Errorf("failed to initialize ledger: %w", err)
		}
		store, err = artifact.NewPostgresStore(ctx, pool)
		if err != nil {
			return fmt.Errorf("failed to initialize artifact store: %w", err)
		}
	} else {
		log.Warn("DATABASE_URL not set, using in-memory state (lost on restart)")
		led = ledger.NewMemoryLedger()
		store = artifact.NewMemoryStore()
	}

	ch := channel.NewMemoryChannel(log, channel.MemoryOptions{
		RedeliveryDelay: cfg.VisibilityTimeout,
	})
	defer ch.Close()

	analyzer, err := capability.NewGeminiAnalyzer(ctx, cfg.GeminiAPIKey, "")
	if err != nil {
		return fmt.Errorf("failed to create analyzer: %w", err)
	}
	defer analyzer.Close()

	orch := orchestrator.New(led, ch, log, orchestrator.Options{
		RetryLimit:     cfg.StageRetryLimit,
		BackoffInitial: cfg.BackoffInitial,
		BackoffMax:     cfg.BackoffMax,
	})
	orch.Start()

	worker.NewWorkers(worker.Deps{
		Store:        store,
		Channel:      ch,
		Log:          log,
		Extractor:    capability.NewFFmpegExtractor(cfg.FFmpegPath),
		Transcriber:  capability.NewAssemblyAIClient(cfg.AssemblyAIBaseURL, cfg.AssemblyAIKey),
		Analyzer:     analyzer,
		StageTimeout: cfg.StageTimeout,
		PoolSize:     cfg.WorkerPoolSize,
	}).Start()

	srv := server.New(server.Config{
		Port:            cfg.Port,
		IngestJWTSecret: cfg.IngestJWTSecret,
	}, led, store, orch, log)

	return srv.Start()
}
