// internal/handler/campaign_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/controller"
	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/service"
)

// CampaignHandler holds the dependencies for campaign CRUD handlers
type CampaignHandler struct {
	Service   *service.CampaignService
	Log       *zap.Logger
	validator *validator.Validate
}

func NewCampaignHandler(svc *service.CampaignService, log *zap.Logger) *CampaignHandler {
	return &CampaignHandler{
		Service:   svc,
		Log:       log,
		validator: validator.New(),
	}
}

// CreateCampaignHandler handles creating a new campaign
func (h *CampaignHandler) CreateCampaignHandler(w http.ResponseWriter, r *http.Request) {
	var payload service.CreateCampaignInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		controller.WriteError(w, h.Log, appErrors.NewValidation("body", "invalid JSON"))
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		controller.WriteError(w, h.Log, appErrors.NewValidation("body", err.Error()))
		return
	}

	campaign, err := h.Service.CreateCampaign(r.Context(), payload)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	controller.WriteJSON(w, http.StatusCreated, campaign)
}

// ListCampaignsHandler returns a paginated list of campaigns
func (h *CampaignHandler) ListCampaignsHandler(w http.ResponseWriter, r *http.Request) {
	page := 1
	pageSize := 20

	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if ps, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && ps > 0 {
		pageSize = ps
	}
	channel := r.URL.Query().Get("channel")
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := h.Service.ListCampaigns(r.Context(), page, pageSize, channel, status)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}

	controller.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination,
	})
}

// GetCampaignHandlerWithStats returns a campaign with its counters and
// per-status delivery record counts.
func (h *CampaignHandler) GetCampaignHandlerWithStats(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		controller.WriteError(w, h.Log, appErrors.NewValidation("id", "invalid campaign id"))
		return
	}

	details, err := h.Service.GetCampaignDetailsWithStats(r.Context(), id)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, details)
}
