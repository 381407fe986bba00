package main

import (
	"context"
	"fmt"
	"net"
	"os"

	handlers "github.com/de-tools/revenue-atlas/pkg/handlers/run"
	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/de-tools/revenue-atlas/pkg/runtime/app"
	"github.com/de-tools/revenue-atlas/pkg/server"
	"github.com/de-tools/revenue-atlas/pkg/services/config"
	"github.com/de-tools/revenue-atlas/pkg/services/upload"
	"github.com/de-tools/revenue-atlas/pkg/services/workflow"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var cfgPath string

func main() {
	var rootCmd = &cobra.Command{
		Use:   "web",
		Short: "Start the web server for Revenue Atlas",
		RunE:  runServer,
	}

	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", "", "Path to the YAML configuration file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Error loading .env file: %v\n", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(cmd.Context())

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	services, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer services.Close()

	publisher, err := services.NewPublisher(ctx)
	if err != nil {
		return fmt.Errorf("failed to configure export destinations: %w", err)
	}

	workflowCtrl := workflow.NewController(services.Orchestrator, workflow.Config{
		Retain:    cfg.Runs.Retain,
		MaxActive: cfg.Runs.MaxActive,
		OnComplete: []workflow.CompletionHook{
			func(ctx context.Context, result domain.PipelineRun) {
				if len(result.Summaries) > 0 {
					services.SaveSummary(ctx, result)
				}
			},
		},
	})

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	web := server.NewWebAPI(server.Config{
		Addr:            addr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Handler: handlers.Config{
			Packs:          services.Packs,
			CohortYear:     cfg.Data.CohortYear,
			MaxUploadBytes: cfg.Server.MaxUploadBytes,
			From:           cfg.Currency.From,
			To:             cfg.Currency.To,
		},
		Dependencies: server.Dependencies{
			Controller: workflowCtrl,
			Data:       upload.NewWorkspace(cfg.Data.Root, cfg.Data.UploadDir, cfg.Server.MaxUploadBytes),
			Rates:      services.Rates,
			Publisher:  publisher,
			Logger:     logger,
		},
		OnShutdown: workflowCtrl.Shutdown,
	})

	logger.Info().
		Str("warehouse", cfg.Warehouse.Driver).
		Str("data_root", cfg.Data.Root).
		Bool("publishing", publisher.Enabled()).
		Msg("configuration loaded")

	return web.Start()
}
