// Package content produces campaign copy and images for automations.
package content

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/unclebandit/campaign-engine/internal/model"
)

// Request describes what an automation asks to have written.
type Request struct {
	Prompt  string
	Channel string
	Subject string
}

// Content is a generated message template. Body may contain merge tags.
type Content struct {
	Subject string
	Body    string
}

type Generator interface {
	Generate(ctx context.Context, req Request) (Content, error)
}

// MediaGenerator renders an image for prompt and returns a public URL.
type MediaGenerator interface {
	GenerateImage(ctx context.Context, prompt, key string) (string, error)
}

// MediaCompositor produces a per-recipient variant of a campaign image.
type MediaCompositor interface {
	Compose(ctx context.Context, baseURL string, fields map[string]string) (string, error)
}

// PromptGenerator uses the prompt itself as the body. It stands in for a
// model when no API key is configured.
type PromptGenerator struct{}

func (PromptGenerator) Generate(_ context.Context, req Request) (Content, error) {
	body := strings.TrimSpace(req.Prompt)
	subject := req.Subject
	if req.Channel == model.ChannelEmail && subject == "" {
		subject = firstLine(body)
	}
	return Content{Subject: subject, Body: body}, nil
}

const maxSubjectRunes = 78

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	if utf8.RuneCountInString(line) > maxSubjectRunes {
		line = string([]rune(line)[:maxSubjectRunes])
	}
	return line
}
