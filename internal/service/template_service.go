// internal/service/template_service.go
package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/osteele/liquid"
)

// RenderTemplate replaces {key} placeholders with values from data.
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

// TemplateService personalises message templates. Liquid tags ({{ }}, {% %})
// are rendered first, then the simple {key} merge tags.
type TemplateService struct {
	engine *liquid.Engine
}

func NewTemplateService() *TemplateService {
	return &TemplateService{engine: liquid.NewEngine()}
}

func (t *TemplateService) Personalize(template string, fields map[string]string) (string, error) {
	out := template
	if strings.Contains(out, "{{") || strings.Contains(out, "{%") {
		bindings := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			bindings[k] = v
		}
		rendered, err := t.engine.ParseAndRenderString(out, bindings)
		if err != nil {
			return "", fmt.Errorf("render template: %w", err)
		}
		out = rendered
	}
	return RenderTemplate(out, fields), nil
}

// ====================== Tracking ======================

var hrefPattern = regexp.MustCompile(`href="(https?://[^"]+)"`)

// TrackingLinks builds signed open, click and unsubscribe URLs on one host.
type TrackingLinks struct {
	BaseURL string
	Secret  string
}

// SignTracking returns the sig parameter of a tracking link. A click
// signature covers the target as well.
func SignTracking(secret, kind string, sendID int, target string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s|%d|%s", kind, sendID, target)
	return hex.EncodeToString(mac.Sum(nil))[:32]
}

func VerifyTracking(secret, kind string, sendID int, target, sig string) bool {
	return hmac.Equal([]byte(SignTracking(secret, kind, sendID, target)), []byte(sig))
}

func (l TrackingLinks) base() string { return strings.TrimRight(l.BaseURL, "/") }

func (l TrackingLinks) Open(sendID int) string {
	return fmt.Sprintf("%s/track/open/%d?sig=%s", l.base(), sendID, SignTracking(l.Secret, TrackOpen, sendID, ""))
}

func (l TrackingLinks) Click(sendID int, target string) string {
	return fmt.Sprintf("%s/track/click/%d?url=%s&sig=%s", l.base(), sendID, url.QueryEscape(target),
		SignTracking(l.Secret, TrackClick, sendID, target))
}

func (l TrackingLinks) Unsubscribe(sendID int) string {
	return fmt.Sprintf("%s/track/unsubscribe/%d?sig=%s", l.base(), sendID, SignTracking(l.Secret, TrackUnsubscribe, sendID, ""))
}

// Inject routes every absolute link through the click endpoint and appends
// the open pixel. Links already pointing at the tracking host are kept.
func (l TrackingLinks) Inject(html string, sendID int) string {
	base := l.base()
	html = hrefPattern.ReplaceAllStringFunc(html, func(m string) string {
		target := hrefPattern.FindStringSubmatch(m)[1]
		if strings.HasPrefix(target, base+"/track/") {
			return m
		}
		return `href="` + l.Click(sendID, target) + `"`
	})

	pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" style="display:none" alt="" />`, l.Open(sendID))
	if strings.Contains(html, "</body>") {
		return strings.Replace(html, "</body>", pixel+"</body>", 1)
	}
	return html + pixel
}
