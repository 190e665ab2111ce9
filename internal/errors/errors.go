// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrAlreadySent     = errors.New("campaign has already been sent")
	ErrNoValidContacts = errors.New("no valid contacts")
	ErrSchedulerBusy   = errors.New("another scheduler run is in progress")
	ErrAccountNotFound = errors.New("account not found")
	ErrContactNotFound = errors.New("contact not found")
	ErrSendInProgress  = errors.New("campaign send already in progress")
)

// ErrCampaignNotFound is returned when a campaign id does not resolve.
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ValidationError rejects a request before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ComplianceError covers plan gates and channel verification.
type ComplianceError struct {
	Channel string
	Reason  string
}

func (e *ComplianceError) Error() string {
	return fmt.Sprintf("%s channel not available: %s", e.Channel, e.Reason)
}

// QuotaError reports an insufficient quota or credit balance with exact counts.
type QuotaError struct {
	Resource  string
	Needed    int
	Remaining int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("insufficient %s: need %d, have %d", e.Resource, e.Needed, e.Remaining)
}

// HTTPStatus maps an application error to a response code.
func HTTPStatus(err error) int {
	var (
		notFound   *ErrCampaignNotFound
		validation *ValidationError
		compliance *ComplianceError
		quota      *QuotaError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &compliance):
		return http.StatusForbidden
	case errors.As(err, &quota):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrAlreadySent), errors.Is(err, ErrSendInProgress), errors.Is(err, ErrSchedulerBusy):
		return http.StatusConflict
	case errors.Is(err, ErrNoValidContacts):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrContactNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
