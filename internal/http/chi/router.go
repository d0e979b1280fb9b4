// Package chi wires the Ingress HTTP API (spec section 6) onto
// go-chi, following the teacher's router-construction idiom:
// a logger + recoverer + timeout middleware stack, a constructor
// that takes its collaborators by interface, handler-per-route
// functions returning http.Handler.
package chi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"

	"github.com/complyflow/webhook-core/lifecycle"
	"github.com/complyflow/webhook-core/metrics"
)

// managementTimeout bounds every route except /health, /metrics and the
// process-claim endpoints; the latter may run compute synchronously for
// up to an hour when no webhook_url is supplied (spec section 4.6).
const managementTimeout = 30 * time.Second

// Deps bundles every collaborator the ingress API needs. Handlers take
// the narrowest interface they use; Deps exists only to make wiring in
// cmd/server a single struct literal.
type Deps struct {
	Intake      *ClaimIntake
	Lifecycle   *lifecycle.Manager
	Collector   metrics.Collector
	Pinger      func(context.Context) error
	MetricsHTTP http.Handler
}

// Router builds the chi.Mux exposing every route spec.md section 6
// names.
func Router(ctx context.Context, deps Deps) *chi.Mux {
	logger := httplog.NewLogger("webhook-core", httplog.Options{JSON: true})

	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler(deps.Pinger, deps.Collector).ServeHTTP)
	r.Handle("/metrics", deps.MetricsHTTP)

	r.Post("/process-claim-basic", processClaim("basic", deps.Intake).ServeHTTP)
	r.Post("/process-claim-extended", processClaim("extended", deps.Intake).ServeHTTP)
	r.Post("/process-claim-complete", processClaim("complete", deps.Intake).ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(managementTimeout))

		r.Get("/task-status/{task_id}", taskStatusHandler(deps.Intake).ServeHTTP)

		r.Get("/webhook-status/{webhook_id}", getWebhookStatus(deps.Lifecycle).ServeHTTP)
		r.Delete("/webhook-status/{webhook_id}", deleteWebhookStatus(deps.Lifecycle).ServeHTTP)

		r.Get("/webhook-statuses", listWebhookStatuses(deps.Lifecycle).ServeHTTP)
		r.Delete("/webhook-statuses", bulkDeleteWebhookStatuses(deps.Lifecycle).ServeHTTP)

		r.Post("/webhook-cleanup", webhookCleanup(deps.Lifecycle).ServeHTTP)
	})

	return r
}
