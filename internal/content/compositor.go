package content

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sendgrid/rest"
)

// HTTPCompositor asks an external compositing service for a per-recipient
// variant of a campaign image. The service replies with {"url": "..."}.
type HTTPCompositor struct {
	endpoint string
	client   *rest.Client
}

func NewHTTPCompositor(endpoint string, timeout time.Duration) *HTTPCompositor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPCompositor{
		endpoint: endpoint,
		client:   &rest.Client{HTTPClient: &http.Client{Timeout: timeout}},
	}
}

type composeRequest struct {
	BaseURL string            `json:"base_url"`
	Fields  map[string]string `json:"fields"`
}

type composeResponse struct {
	URL string `json:"url"`
}

func (c *HTTPCompositor) Compose(ctx context.Context, baseURL string, fields map[string]string) (string, error) {
	body, err := json.Marshal(composeRequest{BaseURL: baseURL, Fields: fields})
	if err != nil {
		return "", err
	}
	resp, err := c.client.SendWithContext(ctx, rest.Request{
		Method:  rest.Post,
		BaseURL: c.endpoint,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	})
	if err != nil {
		return "", fmt.Errorf("compose media: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("compose media: status %d: %s", resp.StatusCode, resp.Body)
	}
	var out composeResponse
	if err := json.Unmarshal([]byte(resp.Body), &out); err != nil {
		return "", fmt.Errorf("decode compose response: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("compositor returned no url")
	}
	return out.URL, nil
}
