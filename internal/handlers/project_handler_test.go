package handlers

import (
	"net/http"
	"testing"

	"github.com/agamariel/printdesk/internal/models"
	"github.com/agamariel/printdesk/internal/services"
	"github.com/google/uuid"
)

func TestProjectHandler_GetProject(t *testing.T) {
	api := newTestAPI(t)
	api.submit(t, `{"price":"50","project_id":"lamp"}`)
	api.submit(t, `{"price":"75","project_id":"lamp"}`)
	api.submit(t, `{"price":"25","project_id":"lamp"}`)

	rec, err := call(api.projects.GetProject, http.MethodGet, "/api/projects/lamp", "", &api.customer, "lamp")
	if got := statusOf(rec, err); got != http.StatusOK {
		t.Fatalf("status = %d (err %v)", got, err)
	}
	var summary models.ProjectSummary
	decode(t, rec, &summary)
	if summary.MemberCount != 3 || summary.TotalPrice.String() != "150" {
		t.Errorf("summary = %+v, want 3 members and total 150", summary)
	}

	rec, err = call(api.projects.GetProject, http.MethodGet, "/api/projects/none", "", &api.customer, "none")
	if got := statusOf(rec, err); got != http.StatusNotFound {
		t.Fatalf("unknown project: status = %d, want 404", got)
	}
}

func TestProjectHandler_CancelAndSettle(t *testing.T) {
	api := newTestAPI(t)
	first := api.submit(t, `{"price":"30","project_id":"chess"}`)
	second := api.submit(t, `{"price":"20","project_id":"chess"}`)
	api.confirm(t, first.ID, "30")
	api.confirm(t, second.ID, "20")

	rec, err := call(api.projects.CancelProject, http.MethodPost, "/api/projects/chess/cancel", "", &api.customer, "chess")
	if got := statusOf(rec, err); got != http.StatusOK {
		t.Fatalf("cancel status = %d (err %v)", got, err)
	}
	var update models.ProjectPendingUpdate
	decode(t, rec, &update)
	if len(update.Orders) != 2 || update.TotalRefund.String() != "50" {
		t.Fatalf("unexpected project update: %s", rec.Body.String())
	}

	api.gateway.failFor = map[uuid.UUID]bool{second.ID: true}
	rec, err = call(api.projects.SettleProject, http.MethodPost, "/api/projects/chess/settle", `{"method":"original"}`, &api.customer, "chess")
	if got := statusOf(rec, err); got != http.StatusMultiStatus {
		t.Fatalf("partial settle status = %d, want 207 (err %v)", got, err)
	}
	var partial services.ProjectSettlement
	decode(t, rec, &partial)
	if partial.Message != "1 of 2 succeeded, retry failed ones" {
		t.Errorf("message = %q", partial.Message)
	}

	api.gateway.failFor = nil
	rec, err = call(api.projects.SettleProject, http.MethodPost, "/api/projects/chess/settle", `{"method":"original"}`, &api.customer, "chess")
	if got := statusOf(rec, err); got != http.StatusOK {
		t.Fatalf("retry status = %d, want 200 (err %v)", got, err)
	}

	rec, err = call(api.projects.SettleProject, http.MethodPost, "/api/projects/chess/settle", `{"method":"original"}`, &api.customer, "chess")
	if got := statusOf(rec, err); got != http.StatusConflict {
		t.Fatalf("settle after completion: status = %d, want 409", got)
	}
}
