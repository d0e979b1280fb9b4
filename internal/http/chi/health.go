package chi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/complyflow/webhook-core/metrics"
)

func healthHandler(pinger func(context.Context) error, collector metrics.Collector) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := metrics.Health(r.Context(), pinger, collector)

		status := http.StatusOK
		if report.Status == metrics.Unhealthy {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(report)
	})
}
