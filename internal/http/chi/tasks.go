package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/complyflow/webhook-core/webhook/redisstore"
)

// taskStatusResponse is the body of GET /task-status/{task_id}.
type taskStatusResponse struct {
	TaskID      string          `json:"task_id"`
	ReferenceID string          `json:"reference_id"`
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Attempts    int             `json:"attempts"`
}

func taskStatusHandler(intake *ClaimIntake) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		taskID := chi.URLParam(r, "task_id")

		rec, err := intake.Store.GetCompute(r.Context(), taskID)
		if err != nil {
			if errors.Is(err, redisstore.ErrNotFound) {
				http.Error(w, "task not found", http.StatusNotFound)
				return
			}
			http.Error(w, fmt.Sprintf("loading task record: %v", err), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(taskStatusResponse{
			TaskID:      rec.TaskID,
			ReferenceID: rec.ReferenceID,
			Status:      rec.Status.String(),
			Result:      rec.Result,
			Error:       rec.Error,
			Attempts:    rec.Attempts,
		})
	})
}
