// Package llm asks an OpenAI-compatible model for advisory scores on
// short-answer responses. Suggestions never change a result by themselves;
// staff confirm them through manual review.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/examportal/internal/model"
)

// Suggestion is the model's proposed score for one answer.
type Suggestion struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	variant Variant
}

// New creates a new LLM client. An empty or unknown variant falls back to
// the standard prompt.
func New(baseURL, apiKey, modelName string, variant Variant) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if !IsValidVariant(string(variant)) {
		variant = VariantStandard
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: variant,
	}
}

// SuggestScore sends the question and the student's answer to the model and
// returns a score clamped to [0, question points].
func (c *Client) SuggestScore(ctx context.Context, question model.Question, answer string) (*Suggestion, error) {
	prompt, err := buildReviewPrompt(c.variant, question, answer)
	if err != nil {
		return nil, err
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "question_id", question.ID, "raw", raw)

	var s Suggestion
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	s.Score = clampScore(s.Score, question.Points)
	return &s, nil
}

func clampScore(score float64, maxPoints int) float64 {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	return math.Min(score, float64(maxPoints))
}
