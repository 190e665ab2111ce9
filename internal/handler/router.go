package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unclebandit/campaign-engine/internal/controller"
)

// Routes bundles everything the HTTP surface is built from.
type Routes struct {
	Campaigns      *CampaignHandler
	CampaignSends  *controller.CampaignController
	Tracking       *controller.TrackingController
	Webhooks       *controller.WebhookController
	Automations    *controller.AutomationController
	AllowedOrigins []string
}

// NewRouter wires the API, tracking, webhook and ops routes.
func NewRouter(rt Routes) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	origins := rt.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		controller.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// Campaign routes
	r.Post("/campaigns", rt.Campaigns.CreateCampaignHandler)
	r.Get("/campaigns", rt.Campaigns.ListCampaignsHandler)
	r.Get("/campaigns/{id}", rt.Campaigns.GetCampaignHandlerWithStats)
	r.Post("/campaigns/{id}/send", rt.CampaignSends.SendCampaign)
	r.Post("/campaigns/{id}/personalized-preview", rt.CampaignSends.PersonalizedPreview)

	r.Get("/track/open/{sendId}", rt.Tracking.Open)
	r.Get("/track/click/{sendId}", rt.Tracking.Click)
	r.Get("/track/unsubscribe/{sendId}", rt.Tracking.Unsubscribe)

	r.Post("/webhooks/ses", rt.Webhooks.SES)
	r.Post("/webhooks/sendgrid", rt.Webhooks.SendGrid)
	r.Post("/webhooks/sms", rt.Webhooks.SMS)

	r.Post("/automation/scheduler", rt.Automations.RunScheduler)

	return r
}
