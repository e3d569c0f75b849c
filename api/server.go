/*
server.go - chi router and HTTP server wiring

PURPOSE:
  Assembles the route table over the handler set, with request-ID,
  logging, panic-recovery, and CORS middleware, plus health and
  Prometheus metrics endpoints.

ROUTE MAP:
  POST   /api/projects                              initiate project
  GET    /api/projects                              list projects
  GET    /api/projects/{projectID}                  fetch project
  GET    /api/projects/{projectID}/next-step        role-aware next step
  POST   /api/projects/{projectID}/assign           assign PM + SPM
  POST   /api/projects/{projectID}/finalize         finalize with milestones
  POST   /api/projects/{projectID}/budgets          new budget version
  GET    /api/projects/{projectID}/budget           ledger summary
  POST   /api/budgets/{budgetID}/submit             submit for approval
  GET    /api/approvals/pending                     pending for caller's role
  POST   /api/approvals/{approvalID}/decide         approve / reject / escalate
  POST   /api/categories/{categoryID}/entries       add ledger entry
  PUT    /api/entries/{entryID}/status              change entry status
  POST   /api/transfers                             move funds between categories
  POST   /api/gate-meetings/{meetingID}/transitions append gate state
  GET    /api/gate-meetings/{meetingID}/history     full gate history
  GET    /api/audit                                 filtered audit trail
  GET    /api/notifications/{userID}                queued notifications
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the full route table. allowedOrigins feeds the CORS
// policy; an empty list means same-origin only.
func NewRouter(h *Handler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Actor-ID", "X-Actor-Role"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/projects", func(r chi.Router) {
			r.Post("/", h.CreateProject)
			r.Get("/", h.ListProjects)
			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/", h.GetProject)
				r.Get("/next-step", h.ProjectNextStep)
				r.Post("/assign", h.AssignTeam)
				r.Post("/finalize", h.FinalizeProject)
				r.Post("/budgets", h.CreateBudget)
				r.Get("/budget", h.BudgetSummary)
			})
		})

		r.Post("/budgets/{budgetID}/submit", h.SubmitBudget)

		r.Route("/approvals", func(r chi.Router) {
			r.Get("/pending", h.PendingApprovals)
			r.Post("/{approvalID}/decide", h.DecideApproval)
		})

		r.Post("/categories/{categoryID}/entries", h.AddEntry)
		r.Put("/entries/{entryID}/status", h.SetEntryStatus)
		r.Post("/transfers", h.TransferFunds)

		r.Route("/gate-meetings/{meetingID}", func(r chi.Router) {
			r.Post("/transitions", h.TransitionGateMeeting)
			r.Get("/history", h.GateMeetingHistory)
		})

		r.Get("/audit", h.AuditTrail)
		r.Get("/notifications/{userID}", h.Notifications)
	})

	return r
}
