package main

import (
	"fmt"
	"os"

	"github.com/metergate/metergate/bootstrap"
	"github.com/metergate/metergate/config"
	"github.com/spf13/cobra"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the metering server",
	Long: `Start the Metergate HTTP server.

The server will:
  - Load configuration from metergate.yaml (or --config)
  - Or load configuration from METERGATE_* environment variables
  - Connect to the database and run pending migrations
  - Accept signed usage events on POST /v1/usage
  - Serve quota status on GET /v1/usage/status
  - Enforce quotas on metered operations

Environment variables (for Docker deployments):
  METERGATE_INGEST_SECRET    - Shared HMAC secret for ingestion (required)
  METERGATE_DATABASE_DRIVER  - sqlite or postgres (default: sqlite)
  METERGATE_DATABASE_DSN     - Database path or connection string
  METERGATE_SERVER_PORT      - Server port (default: 8080)
  METERGATE_LOG_LEVEL        - Log level: debug, info, warn, error

Examples:
  metergate serve
  metergate serve --config /etc/metergate/config.yaml
  metergate serve --hot-reload=false

  # Docker (env vars only):
  METERGATE_INGEST_SECRET=s3cret metergate serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	hasEnvConfig := config.HasEnvConfig()

	// No configuration at all
	if !hasConfigFile && !hasEnvConfig {
		fmt.Println("No configuration found.")
		fmt.Println()
		fmt.Printf("Option 1: Create %s with at least an ingest secret\n", cfgFile)
		fmt.Println("Option 2: Set METERGATE_INGEST_SECRET environment variable")
		fmt.Println()
		fmt.Println("Example (env vars):")
		fmt.Println("  METERGATE_INGEST_SECRET=s3cret metergate serve")
		return nil
	}

	// Create application
	var app *bootstrap.App
	var err error

	if hasConfigFile && hotReload {
		// Hot reload only works with a config file
		app, err = bootstrap.NewWithHotReload(cfgFile)
	} else {
		cfg, loadErr := config.LoadWithFallback(cfgFile)
		if loadErr != nil {
			return fmt.Errorf("error loading config: %w", loadErr)
		}

		if !hasConfigFile {
			fmt.Println("Running with environment variables (no config file)")
		}

		app, err = bootstrap.New(cfg)
	}

	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}
