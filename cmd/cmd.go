// Package cmd provides CLI commands for mesura.
//
// Commands:
//   - serve: HTTP API server with SSE streaming
//   - migrate: apply pending database migrations and exit
//
// Signal handling and graceful shutdown are implemented via context
// cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/mesura-ai/mesura/internal/log"
)

// Execute is the main entry point for the mesura binary.
func Execute() error {
	// Local development convenience; missing .env is fine.
	_ = godotenv.Load()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level, JSON: os.Getenv("MESURA_LOG_JSON") != ""})
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe(logger)
	case "migrate":
		return runMigrate(logger)
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("Mesura - conversational measurement system analysis")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  mesura serve [addr]  Start HTTP API server (default: 127.0.0.1:8080)")
	fmt.Println("  mesura migrate       Apply pending database migrations")
	fmt.Println("  mesura --version     Show version information")
	fmt.Println("  mesura --help        Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY             Required: Gemini API key")
	fmt.Println("  DATABASE_URL               Optional: overrides postgres_* settings")
	fmt.Println("  MESURA_ANALYSIS_BASE_URL   Optional: analysis service endpoint")
	fmt.Println("  DEBUG                      Optional: enable debug logging")
}
