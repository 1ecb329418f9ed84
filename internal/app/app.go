// Package app provides application initialization.
//
// App is the container that wires configuration, storage, the generation
// stack and the HTTP surface together. Setup builds everything in
// dependency order; Close releases it in reverse.
package app

import (
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mesura-ai/mesura/internal/analysis"
	"github.com/mesura-ai/mesura/internal/api"
	"github.com/mesura-ai/mesura/internal/chat"
	"github.com/mesura-ai/mesura/internal/config"
	"github.com/mesura-ai/mesura/internal/files"
	"github.com/mesura-ai/mesura/internal/log"
	"github.com/mesura-ai/mesura/internal/store"
)

// App is the application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	// Core services
	Genkit   *genkit.Genkit
	DBPool   *pgxpool.Pool
	Store    *store.Store
	Storage  *files.Storage
	Analysis *analysis.Client

	// Chat pipeline
	Orchestrator *chat.Orchestrator

	// HTTP surface
	Server *api.Server

	// Lifecycle cleanups, run in reverse initialization order.
	otelCleanup func()
	dbCleanup   func()
}

// Close releases all resources. Safe to call on a partially initialized
// App; Setup relies on that for cleanup after a failed step.
func (a *App) Close() error {
	if a.dbCleanup != nil {
		a.dbCleanup()
		a.dbCleanup = nil
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
		a.otelCleanup = nil
	}
	return nil
}
