// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
	Log             *zap.Logger
	validator       *validator.Validate
}

func NewCampaignController(svc *service.CampaignService, log *zap.Logger) *CampaignController {
	return &CampaignController{
		CampaignService: svc,
		Log:             log,
		validator:       validator.New(),
	}
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	campaignID, err := idParam(r, "id")
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}

	var body struct {
		ContactID        int     `json:"contact_id"`
		OverrideTemplate *string `json:"override_template"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, c.Log, appErrors.NewValidation("body", "invalid JSON"))
		return
	}

	rendered, err := c.CampaignService.RenderPreview(r.Context(), campaignID, body.ContactID, body.OverrideTemplate)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"rendered_message": rendered,
		"used_template":    body.OverrideTemplate,
		"contact_id":       body.ContactID,
	})
}

// SendCampaign handles POST /campaigns/{id}/send. A run with per-recipient
// failures still answers 200 with the failure count.
func (c *CampaignController) SendCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}

	var req service.SendRequest
	if err := decodeAndValidate(r, c.validator, &req); err != nil {
		WriteError(w, c.Log, err)
		return
	}

	summary, err := c.CampaignService.SendCampaign(r.Context(), id, req)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}
