package controller

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/service"
)

// SchedulerRunner runs one automation due-check.
type SchedulerRunner interface {
	Run(ctx context.Context, now time.Time) (*service.RunReport, error)
}

// AutomationController exposes the scheduler to an external periodic trigger.
type AutomationController struct {
	Scheduler SchedulerRunner
	Secret    string
	Log       *zap.Logger
	Now       func() time.Time
}

func (c *AutomationController) authorized(r *http.Request) bool {
	if c.Secret == "" {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(c.Secret)) == 1
}

func (c *AutomationController) RunScheduler(w http.ResponseWriter, r *http.Request) {
	if !c.authorized(r) {
		WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}

	report, err := c.Scheduler.Run(r.Context(), now)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}
