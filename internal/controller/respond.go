package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
)

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to a status code and a JSON body. Unexpected errors are
// logged and hidden from the caller.
func WriteError(w http.ResponseWriter, log *zap.Logger, err error) {
	status := appErrors.HTTPStatus(err)
	body := map[string]any{"error": err.Error()}

	var quota *appErrors.QuotaError
	if errors.As(err, &quota) {
		body["resource"] = quota.Resource
		body["needed"] = quota.Needed
		body["remaining"] = quota.Remaining
	}
	if status == http.StatusInternalServerError {
		if log != nil {
			log.Error("request failed", zap.Error(err))
		}
		body["error"] = "internal server error"
	}
	WriteJSON(w, status, body)
}

// decodeAndValidate reads a JSON body into dst and runs its validate tags.
func decodeAndValidate(r *http.Request, v *validator.Validate, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return appErrors.NewValidation("body", "invalid JSON")
	}
	if err := v.Struct(dst); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) && len(fields) > 0 {
			f := fields[0]
			reason := "failed " + f.Tag()
			if f.Param() != "" {
				reason = fmt.Sprintf("must be %s %s", f.Tag(), f.Param())
			}
			return appErrors.NewValidation(strings.ToLower(f.Field()[:1])+f.Field()[1:], reason)
		}
		return appErrors.NewValidation("body", err.Error())
	}
	return nil
}

// idParam reads a positive integer URL parameter.
func idParam(r *http.Request, name string) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || id <= 0 {
		return 0, appErrors.NewValidation(name, "must be a positive integer")
	}
	return id, nil
}
