package content

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/model"
)

type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIGenerator writes campaign copy with a chat completion model.
type OpenAIGenerator struct {
	client    chatAPI
	model     string
	maxTokens int
	log       *zap.Logger
}

func NewOpenAIGenerator(apiKey, modelName string, maxTokens int, log *zap.Logger) *OpenAIGenerator {
	return &OpenAIGenerator{client: openai.NewClient(apiKey), model: modelName, maxTokens: maxTokens, log: log}
}

const (
	emailSystemPrompt = "You write marketing emails. Reply with the email body as simple HTML only. " +
		"You may use the merge tags {first_name}, {location} and {preferred_product}."
	smsSystemPrompt = "You write marketing SMS messages. Reply with plain text of at most 160 characters. " +
		"You may use the merge tag {first_name}."
)

func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (Content, error) {
	system := emailSystemPrompt
	if req.Channel == model.ChannelSMS {
		system = smsSystemPrompt
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxTokens: g.maxTokens,
	})
	if err != nil {
		return Content{}, fmt.Errorf("openai chat failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Content{}, fmt.Errorf("no response from openai")
	}
	g.log.Debug("content generated",
		zap.Int("tokens", resp.Usage.TotalTokens),
		zap.Duration("duration", time.Since(start)),
	)

	body := strings.TrimSpace(resp.Choices[0].Message.Content)
	if body == "" {
		return Content{}, fmt.Errorf("openai returned empty content")
	}
	subject := req.Subject
	if req.Channel == model.ChannelEmail && subject == "" {
		subject = firstLine(req.Prompt)
	}
	return Content{Subject: subject, Body: body}, nil
}
