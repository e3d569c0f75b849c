/*
main.go - governd entry point

PURPOSE:
  CLI for the governance engine. Wires config, SQLite store,
  coordinator, HTTP router, metrics, and the auto-transition
  scheduler, with graceful shutdown.

COMMANDS:
  governd serve       Run the HTTP API server
  governd submit-due  One-shot job: submit every draft budget for approval

GLOBAL FLAGS:
  --config   Path to YAML config file (optional; defaults apply)

GRACEFUL SHUTDOWN (serve):
  On SIGINT/SIGTERM:
  1. Stop the auto-transition scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database per config
  governd serve --config=governd.yaml

  # In-memory database, default port
  governd serve --db=":memory:"

  # Submit all draft budgets, e.g. from cron
  governd submit-due --db="./data/governance.db"

SEE ALSO:
  - config/config.go: YAML configuration
  - api/server.go: Router configuration
  - api/scheduler.go: Auto-transition scheduler
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridian/governance-engine/api"
	"github.com/meridian/governance-engine/config"
	"github.com/meridian/governance-engine/governance"
	"github.com/meridian/governance-engine/store/sqlite"
)

var (
	configPath string
	dbOverride string
)

func main() {
	root := &cobra.Command{
		Use:          "governd",
		Short:        "Governance and budget approval engine",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&dbOverride, "db", "", "SQLite database path (overrides config)")

	root.AddCommand(serveCmd(), submitDueCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbOverride != "" {
		cfg.Database.Path = dbOverride
	}
	return cfg, nil
}

func openCoordinator(cfg *config.Config) (*governance.Coordinator, *sqlite.Store, error) {
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	coordinator := governance.NewCoordinator(store, governance.SystemClock{})
	coordinator.StrictGateWorkflow = cfg.Workflow.StrictGateTransitions
	return coordinator, store, nil
}

// =============================================================================
// SERVE
// =============================================================================

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			coordinator, store, err := openCoordinator(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			handler := api.NewHandler(coordinator)
			router := api.NewRouter(handler, cfg.Server.AllowedOrigins)

			scheduler := api.NewTransitionScheduler(coordinator)
			scheduler.Enabled = cfg.Scheduler.Enabled
			scheduler.CheckInterval = cfg.Scheduler.CheckInterval
			scheduler.Start()

			server := &http.Server{
				Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:      router,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			go func() {
				log.Printf("Server starting on http://localhost:%d", cfg.Server.Port)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatalf("Server failed: %v", err)
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Println("Shutting down server...")
			scheduler.Stop()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}

			log.Println("Server stopped")
			return nil
		},
	}
}

// =============================================================================
// SUBMIT-DUE
// =============================================================================

// submitDueCmd submits every project's current draft budget for approval,
// for running out of cron. A ConcurrencyConflict on one budget (someone
// submitted it mid-run) is skipped, not fatal.
func submitDueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit-due",
		Short: "Submit all draft budgets for approval",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			coordinator, store, err := openCoordinator(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			projects, err := store.ListProjects(ctx)
			if err != nil {
				return err
			}

			submitted := 0
			skipped := 0
			for _, p := range projects {
				budget, err := store.CurrentBudget(ctx, p.ID)
				if err != nil {
					if governance.IsNotFound(err) {
						continue
					}
					return err
				}
				if budget.Status != governance.BudgetDraft {
					continue
				}

				_, err = coordinator.SubmitForApproval(ctx, budget.ID, governance.SystemActor, governance.UrgencyNormal)
				switch {
				case err == nil:
					submitted++
					log.Printf("submitted budget %s (project %s, v%d)", budget.ID, p.ID, budget.Version)
				case errors.Is(err, governance.ErrAlreadyPending), governance.IsRetryable(err):
					skipped++
				default:
					return fmt.Errorf("submit budget %s: %w", budget.ID, err)
				}
			}

			log.Printf("done: %d submitted, %d skipped", submitted, skipped)
			return nil
		},
	}
}
