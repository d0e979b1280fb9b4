package chi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/complyflow/webhook-core/tasks"
	"github.com/complyflow/webhook-core/webhook"
)

/* HTTP layer DTOs for the claim-processing API.
 * Separate from domain entities to avoid leaking internal structure.
 */

// claimRequest is the incoming body for POST /process-claim-{mode}.
type claimRequest struct {
	ReferenceID      string `json:"reference_id"`
	EmployeeNumber   string `json:"employee_number"`
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	OrganizationName string `json:"organization_name,omitempty"`
	CRDNumber        string `json:"crd_number,omitempty"`
	WebhookURL       string `json:"webhook_url,omitempty"`
}

func (c claimRequest) validate() error {
	if c.ReferenceID == "" {
		return fmt.Errorf("reference_id is required")
	}
	if c.EmployeeNumber == "" {
		return fmt.Errorf("employee_number is required")
	}
	if c.FirstName == "" {
		return fmt.Errorf("first_name is required")
	}
	if c.LastName == "" {
		return fmt.Errorf("last_name is required")
	}
	return nil
}

func (c claimRequest) claimFields() (json.RawMessage, error) {
	return json.Marshal(struct {
		EmployeeNumber   string `json:"employee_number"`
		FirstName        string `json:"first_name"`
		LastName         string `json:"last_name"`
		OrganizationName string `json:"organization_name,omitempty"`
		CRDNumber        string `json:"crd_number,omitempty"`
	}{c.EmployeeNumber, c.FirstName, c.LastName, c.OrganizationName, c.CRDNumber})
}

// queuedResponse is the 202 body when a webhook_url defers the result.
type queuedResponse struct {
	Status      string `json:"status"`
	ReferenceID string `json:"reference_id"`
	TaskID      string `json:"task_id"`
}

// ComputeStore is the subset of the Status Store the ingress API needs
// to seed and inspect compute task records.
type ComputeStore interface {
	PutCompute(ctx context.Context, rec webhook.ComputeTaskRecord) error
	GetCompute(ctx context.Context, taskID string) (webhook.ComputeTaskRecord, error)
}

// ClaimIntake wires a process-claim request to either the Compute
// queue (when a webhook_url defers the result) or a direct,
// synchronous invocation of the compute function (when the caller
// waits for the result inline).
type ClaimIntake struct {
	Store       ComputeStore
	Queue       tasks.Enqueuer
	Compute     tasks.ComputeFunc
	SyncTimeout time.Duration
}

// defaultSyncTimeout matches spec section 4.6's "per-task timeout
// (configurable; default 1 hour)" for the inline, no-webhook path.
const defaultSyncTimeout = time.Hour

func processClaim(mode string, intake *ClaimIntake) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req claimRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
			return
		}
		if err := req.validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		fields, err := req.claimFields()
		if err != nil {
			http.Error(w, fmt.Sprintf("encoding claim fields: %v", err), http.StatusInternalServerError)
			return
		}

		claim := webhook.ClaimEnvelope{
			ReferenceID:    req.ReferenceID,
			ProcessingMode: mode,
			ClaimFields:    fields,
			WebhookURL:     req.WebhookURL,
		}

		if req.WebhookURL != "" {
			enqueueClaim(w, r, intake, claim)
			return
		}
		runClaimInline(w, r, intake, claim)
	})
}

func enqueueClaim(w http.ResponseWriter, r *http.Request, intake *ClaimIntake, claim webhook.ClaimEnvelope) {
	ctx := r.Context()
	taskID := uuid.NewString()

	rec := webhook.NewComputeTaskRecord(taskID, claim.ReferenceID, claim.ProcessingMode, webhook.DefaultComputeMaxAttempts)
	if err := intake.Store.PutCompute(ctx, rec); err != nil {
		http.Error(w, fmt.Sprintf("creating compute task record: %v", err), http.StatusInternalServerError)
		return
	}

	data, err := tasks.NewComputeEnvelope(tasks.ComputePayload{TaskID: taskID, Claim: claim}).Marshal()
	if err != nil {
		http.Error(w, fmt.Sprintf("encoding compute envelope: %v", err), http.StatusInternalServerError)
		return
	}
	if _, err := intake.Queue.Enqueue(ctx, data); err != nil {
		http.Error(w, fmt.Sprintf("enqueueing compute task: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(queuedResponse{
		Status:      "processing_queued",
		ReferenceID: claim.ReferenceID,
		TaskID:      taskID,
	})
}

func runClaimInline(w http.ResponseWriter, r *http.Request, intake *ClaimIntake, claim webhook.ClaimEnvelope) {
	timeout := intake.SyncTimeout
	if timeout <= 0 {
		timeout = defaultSyncTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	result, err := intake.Compute(ctx, claim)
	if err != nil {
		http.Error(w, fmt.Sprintf("compute failed: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(result)
}
