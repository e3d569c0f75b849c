package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/governance-engine/api"
	"github.com/meridian/governance-engine/governance"
	"github.com/meridian/governance-engine/governance/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testTime = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (http.Handler, *governance.Coordinator) {
	t.Helper()
	c := governance.NewCoordinator(store.NewMemory(), governance.FixedClock{At: testTime})
	return api.NewRouter(api.NewHandler(c), nil), c
}

func doJSON(t *testing.T, router http.Handler, method, path string, actor *governance.Actor, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set("X-Actor-ID", actor.ID)
		req.Header.Set("X-Actor-Role", string(actor.Role))
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), "body: %s", rec.Body.String())
	return v
}

var (
	pmiActor      = governance.Actor{ID: "pmi-1", Role: governance.RolePMI}
	directorActor = governance.Actor{ID: "director-1", Role: governance.RoleDirector}
)

func createProject(t *testing.T, router http.Handler) api.ProjectResponse {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/projects", &pmiActor,
		api.CreateProjectRequest{Name: "Harbor Expansion"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[api.ProjectResponse](t, rec)
}

// =============================================================================
// PROJECTS
// =============================================================================

func TestAPI_CreateProject(t *testing.T) {
	router, _ := newTestServer(t)

	project := createProject(t, router)

	assert.NotEmpty(t, project.ID)
	assert.Equal(t, "initiated", project.WorkflowStatus)
	assert.Equal(t, "pmi-1", project.InitiatedBy)
}

func TestAPI_CreateProject_MissingActor(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/projects", nil,
		api.CreateProjectRequest{Name: "Harbor Expansion"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_GetProject_NotFound(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/api/projects/missing", &pmiActor, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody[api.ErrorResponse](t, rec)
	assert.Equal(t, "not_found", body.Kind)
}

func TestAPI_AssignAndFinalize(t *testing.T) {
	router, _ := newTestServer(t)
	project := createProject(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/projects/"+project.ID+"/assign", &directorActor,
		api.AssignTeamRequest{ProjectManager: "pm-1", SeniorProjectManager: "spm-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assigned := decodeBody[api.ProjectResponse](t, rec)
	assert.Equal(t, "assigned", assigned.WorkflowStatus)

	pm := governance.Actor{ID: "pm-1", Role: governance.RolePM}
	rec = doJSON(t, router, http.MethodPost, "/api/projects/"+project.ID+"/finalize", &pm,
		api.FinalizeProjectRequest{Milestones: []api.MilestoneRequest{
			{Title: "Design complete", DueDate: testTime.AddDate(0, 1, 0)},
		}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	finalized := decodeBody[api.ProjectResponse](t, rec)
	assert.Equal(t, "finalized", finalized.WorkflowStatus)
	assert.Equal(t, "active", finalized.LifecycleStatus)
}

func TestAPI_Finalize_WrongStatusMapsTo400(t *testing.T) {
	router, _ := newTestServer(t)
	project := createProject(t, router)

	pm := governance.Actor{ID: "pm-1", Role: governance.RolePM}
	rec := doJSON(t, router, http.MethodPost, "/api/projects/"+project.ID+"/finalize", &pm,
		api.FinalizeProjectRequest{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[api.ErrorResponse](t, rec)
	assert.Equal(t, "invalid_request", body.Kind)
}

// =============================================================================
// BUDGET + APPROVAL FLOW
// =============================================================================

func createBudget(t *testing.T, router http.Handler, projectID, allocated string) api.BudgetResponse {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/projects/"+projectID+"/budgets", &directorActor,
		api.CreateBudgetRequest{Categories: []api.CategoryRequest{
			{Name: "Construction", Allocated: allocated},
		}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[api.BudgetResponse](t, rec)
}

func TestAPI_SubmitAndDecide(t *testing.T) {
	router, _ := newTestServer(t)
	project := createProject(t, router)
	budget := createBudget(t, router, project.ID, "150000")
	assert.Equal(t, "Draft", budget.Status)

	rec := doJSON(t, router, http.MethodPost, "/api/budgets/"+budget.ID+"/submit", &pmiActor,
		api.SubmitBudgetRequest{})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	approval := decodeBody[api.ApprovalResponse](t, rec)
	assert.Equal(t, 2, approval.ApprovalLevel)
	assert.Equal(t, "Pending", approval.Status)

	// Double submission conflicts.
	rec = doJSON(t, router, http.MethodPost, "/api/budgets/"+budget.ID+"/submit", &pmiActor,
		api.SubmitBudgetRequest{})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_pending", decodeBody[api.ErrorResponse](t, rec).Kind)

	// The director sees it pending.
	rec = doJSON(t, router, http.MethodGet, "/api/approvals/pending", &directorActor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decodeBody[[]api.ApprovalResponse](t, rec)
	require.Len(t, pending, 1)

	rec = doJSON(t, router, http.MethodPost, "/api/approvals/"+approval.ID+"/decide", &directorActor,
		api.DecideApprovalRequest{Decision: "approve", Comments: "ok"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestAPI_Decide_Unauthorized(t *testing.T) {
	router, _ := newTestServer(t)
	project := createProject(t, router)
	budget := createBudget(t, router, project.ID, "150000")

	rec := doJSON(t, router, http.MethodPost, "/api/budgets/"+budget.ID+"/submit", &pmiActor,
		api.SubmitBudgetRequest{})
	require.Equal(t, http.StatusCreated, rec.Code)
	approval := decodeBody[api.ApprovalResponse](t, rec)

	manager := governance.Actor{ID: "manager-1", Role: governance.RoleManager}
	rec = doJSON(t, router, http.MethodPost, "/api/approvals/"+approval.ID+"/decide", &manager,
		api.DecideApprovalRequest{Decision: "approve"})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not_authorized", decodeBody[api.ErrorResponse](t, rec).Kind)
}

func TestAPI_Decide_UnknownDecision(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/approvals/a-1/decide", &directorActor,
		api.DecideApprovalRequest{Decision: "shrug"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// LEDGER
// =============================================================================

func TestAPI_EntriesAndTransfer(t *testing.T) {
	router, c := newTestServer(t)
	project := createProject(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/projects/"+project.ID+"/budgets", &directorActor,
		api.CreateBudgetRequest{Categories: []api.CategoryRequest{
			{Name: "A", Allocated: "1000"},
			{Name: "B", Allocated: "200"},
		}})
	require.Equal(t, http.StatusCreated, rec.Code)
	budget := decodeBody[api.BudgetResponse](t, rec)

	categories, err := c.Store.ListCategories(context.Background(), budget.ID)
	require.NoError(t, err)
	require.Len(t, categories, 2)
	var catA, catB string
	for _, cat := range categories {
		if cat.Name == "A" {
			catA = cat.ID
		} else {
			catB = cat.ID
		}
	}

	rec = doJSON(t, router, http.MethodPost, "/api/categories/"+catA+"/entries", &directorActor,
		api.AddEntryRequest{Amount: "300", EntryType: "expense", Status: "Paid"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Over-spend maps to 400 with the error kind preserved in the message.
	rec = doJSON(t, router, http.MethodPost, "/api/categories/"+catA+"/entries", &directorActor,
		api.AddEntryRequest{Amount: "900", EntryType: "expense"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/transfers", &directorActor,
		api.TransferRequest{FromCategoryID: catA, ToCategoryID: catB, Amount: "500", Reason: "rebalance"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/api/projects/"+project.ID+"/budget", &directorActor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decodeBody[api.BudgetSummaryResponse](t, rec)
	assert.Equal(t, "1200", summary.Total.Allocated)
	assert.Equal(t, "300", summary.Total.Spent)
}

func TestAPI_AddEntry_BadAmount(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/categories/c-1/entries", &directorActor,
		api.AddEntryRequest{Amount: "a lot", EntryType: "expense"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// GATE MEETINGS
// =============================================================================

func TestAPI_GateTransitions(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/gate-meetings/gm-1/transitions", &directorActor,
		api.GateTransitionRequest{NewState: "new_project_announced"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	state := decodeBody[api.GateStateResponse](t, rec)
	assert.Equal(t, "new_project_announced", state.CurrentState)
	assert.ElementsMatch(t, []string{"par_approved", "cancelled"}, state.NextPossibleStates)

	rec = doJSON(t, router, http.MethodPost, "/api/gate-meetings/gm-1/transitions", &directorActor,
		api.GateTransitionRequest{NewState: "par_approved"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/gate-meetings/gm-1/history", &directorActor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody[[]api.GateStateResponse](t, rec)
	require.Len(t, history, 2)
	assert.Equal(t, "new_project_announced", history[1].PreviousState)
}

func TestAPI_GateTransition_UnknownState(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/gate-meetings/gm-1/transitions", &directorActor,
		api.GateTransitionRequest{NewState: "vaporized"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// HEALTH
// =============================================================================

func TestAPI_Healthz(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
