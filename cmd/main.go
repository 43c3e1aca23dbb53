package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/moises-m-limon/mangalytics/internal/app"
	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "mangalytics",
	Short: "Turn fresh arXiv papers into a corgi-guided manga digest",
	Long: `mangalytics scrapes arXiv for a topic, extracts figures from the newest
papers, writes a four-panel manga story about them and emails it.

Run without a subcommand to start the HTTP API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is normal in deployed environments.
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		return nil
	},
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading configuration")
	rootCmd.AddCommand(serveCmd)
}

// bootstrap loads configuration and wires the application.
func bootstrap(ctx context.Context) (*app.App, error) {
	cfg := app.LoadConfig()
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("Startup failed", "error", err)
		log.Sync()
		return nil, err
	}
	return a, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Run(cmd.Context())
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
