package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/complyflow/webhook-core/lifecycle"
	"github.com/complyflow/webhook-core/webhook/redisstore"
)

// listResponse is the body of GET /webhook-statuses.
type listResponse struct {
	Records []webhookView `json:"records"`
	Total   int           `json:"total"`
	Page    int           `json:"page"`
}

// webhookView is a webhook.Record with Payload stripped: status
// listings and single-record lookups never echo back the original
// claim payload.
type webhookView struct {
	ReferenceID   string    `json:"reference_id"`
	TaskID        string    `json:"task_id"`
	WebhookURL    string    `json:"webhook_url"`
	Status        string    `json:"status"`
	Attempts      int       `json:"attempts"`
	MaxAttempts   int       `json:"max_attempts"`
	CreatedAt     time.Time `json:"created_at"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"`
	CompletedAt   time.Time `json:"completed_at,omitempty"`
	ResponseCode  int       `json:"response_code,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	CorrelationID string    `json:"correlation_id"`
}

func getWebhookStatus(mgr *lifecycle.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "webhook_id")

		rec, err := mgr.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, redisstore.ErrNotFound) {
				http.Error(w, "webhook record not found", http.StatusNotFound)
				return
			}
			http.Error(w, fmt.Sprintf("loading webhook record: %v", err), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(webhookView{
			ReferenceID:   rec.ReferenceID,
			TaskID:        rec.TaskID,
			WebhookURL:    rec.WebhookURL,
			Status:        rec.Status.String(),
			Attempts:      rec.Attempts,
			MaxAttempts:   rec.MaxAttempts,
			CreatedAt:     rec.CreatedAt,
			LastAttemptAt: rec.LastAttemptAt,
			CompletedAt:   rec.CompletedAt,
			ResponseCode:  rec.ResponseCode,
			LastError:     rec.LastError,
			CorrelationID: rec.CorrelationID,
		})
	})
}

func deleteWebhookStatus(mgr *lifecycle.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "webhook_id")

		if err := mgr.Delete(r.Context(), id); err != nil {
			http.Error(w, fmt.Sprintf("deleting webhook record: %v", err), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func listWebhookStatuses(mgr *lifecycle.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := lifecycle.ListFilter{
			ReferenceID: q.Get("reference_id"),
			Status:      q.Get("status"),
		}
		page, _ := strconv.Atoi(q.Get("page"))
		pageSize, _ := strconv.Atoi(q.Get("page_size"))

		records, total, err := mgr.List(r.Context(), filter, page, pageSize)
		if err != nil {
			http.Error(w, fmt.Sprintf("listing webhook records: %v", err), http.StatusInternalServerError)
			return
		}

		views := make([]webhookView, 0, len(records))
		for _, rec := range records {
			views = append(views, webhookView{
				ReferenceID:   rec.ReferenceID,
				TaskID:        rec.TaskID,
				WebhookURL:    rec.WebhookURL,
				Status:        rec.Status.String(),
				Attempts:      rec.Attempts,
				MaxAttempts:   rec.MaxAttempts,
				CreatedAt:     rec.CreatedAt,
				LastAttemptAt: rec.LastAttemptAt,
				CompletedAt:   rec.CompletedAt,
				ResponseCode:  rec.ResponseCode,
				LastError:     rec.LastError,
				CorrelationID: rec.CorrelationID,
			})
		}

		if page <= 0 {
			page = 1
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(listResponse{Records: views, Total: total, Page: page})
	})
}

func bulkDeleteWebhookStatuses(mgr *lifecycle.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := lifecycle.ListFilter{
			ReferenceID: q.Get("reference_id"),
			Status:      q.Get("status"),
		}

		n, err := mgr.BulkDelete(r.Context(), filter)
		if err != nil {
			http.Error(w, fmt.Sprintf("bulk deleting webhook records: %v", err), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"deleted": n})
	})
}

// cleanupRequest holds the query parameters of POST /webhook-cleanup. older_than_days
// defaults to 0, which Cleanup treats as "everything matching filter".
type cleanupRequest struct {
	Status        string `json:"status"`
	ReferenceID   string `json:"reference_id"`
	OlderThanDays int    `json:"older_than_days"`
}

func webhookCleanup(mgr *lifecycle.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		req := cleanupRequest{
			Status:      q.Get("status"),
			ReferenceID: q.Get("reference_id"),
		}
		if days, err := strconv.Atoi(q.Get("older_than_days")); err == nil {
			req.OlderThanDays = days
		}

		olderThan := time.Duration(req.OlderThanDays) * 24 * time.Hour
		n, err := mgr.Cleanup(r.Context(), olderThan, lifecycle.ListFilter{
			ReferenceID: req.ReferenceID,
			Status:      req.Status,
		})
		if err != nil {
			http.Error(w, fmt.Sprintf("cleaning up webhook records: %v", err), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"deleted": n})
	})
}
