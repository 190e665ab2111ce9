package controller

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/queue"
	"github.com/unclebandit/campaign-engine/internal/service"
)

// transparent 1x1 GIF
var pixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

const unsubscribePage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Unsubscribed</title></head>
<body style="font-family:sans-serif;text-align:center;padding-top:4em">
<h1>You have been unsubscribed</h1>
<p>You will no longer receive these messages.</p>
</body></html>`

// TrackingController serves the open pixel, click redirect and unsubscribe
// page. Only links carrying a valid sig are recorded, and recording is
// queued; the response never depends on it.
type TrackingController struct {
	Queue  queue.Queue
	Secret string
	Log    *zap.Logger
	Now    func() time.Time
}

func (c *TrackingController) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// enqueue reports whether the link was genuine.
func (c *TrackingController) enqueue(r *http.Request, kind, target string) bool {
	sendID, err := strconv.Atoi(chi.URLParam(r, "sendId"))
	if err != nil || sendID <= 0 {
		return false
	}
	if !service.VerifyTracking(c.Secret, kind, sendID, target, r.URL.Query().Get("sig")) {
		c.Log.Debug("tracking link signature rejected", zap.String("type", kind), zap.Int("send_id", sendID))
		return false
	}
	ev := service.TrackingEvent{Type: kind, SendID: sendID, URL: target, At: c.now()}
	if err := c.Queue.Publish(queue.TopicTrackingEvents, ev); err != nil {
		c.Log.Warn("queueing tracking event failed",
			zap.String("type", kind), zap.Int("send_id", sendID), zap.Error(err))
	}
	return true
}

func (c *TrackingController) Open(w http.ResponseWriter, r *http.Request) {
	c.enqueue(r, service.TrackOpen, "")

	h := w.Header()
	h.Set("Content-Type", "image/gif")
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate, private")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pixel)
}

// Click redirects to the url query parameter. Unsigned links and anything that
// is not an absolute http(s) URL go to "/".
func (c *TrackingController) Click(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if !webURL(target) || !c.enqueue(r, service.TrackClick, target) {
		target = "/"
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	http.Redirect(w, r, target, http.StatusFound)
}

func webURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (c *TrackingController) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	c.enqueue(r, service.TrackUnsubscribe, "")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(unsubscribePage))
}
