// Package llm talks to an OpenAI-compatible API to generate study
// plans, lessons and quizzes and to grade quiz answers.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pberezin/tutor/internal/llm/prompts"
	"github.com/pberezin/tutor/internal/model"
)

// Lesson is the generated teaching material for one topic.
type Lesson struct {
	Text      string   `json:"lesson"`
	KeyPoints []string `json:"key_points"`
}

// EvalResult holds the LLM's grading of one quiz attempt.
type EvalResult struct {
	Score    float64          `json:"score"`
	Feedback string           `json:"feedback"`
	Results  []QuestionResult `json:"results"`
}

// QuestionResult is the per-question verdict within an EvalResult.
type QuestionResult struct {
	Correct     bool   `json:"correct"`
	Explanation string `json:"explanation"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// GeneratePlan asks the LLM to break a learning objective into an
// ordered study plan of at most topicCount topics.
func (c *Client) GeneratePlan(ctx context.Context, objective string, topicCount int) ([]model.TopicPlan, error) {
	var result struct {
		Topics []model.TopicPlan `json:"topics"`
	}
	prompt := prompts.BuildPlanPrompt(objective, topicCount)
	if err := c.complete(ctx, prompt, 0.3, &result); err != nil {
		return nil, fmt.Errorf("generate plan: %w", err)
	}
	if len(result.Topics) == 0 {
		return nil, fmt.Errorf("generate plan: LLM returned no topics")
	}
	if len(result.Topics) > topicCount {
		result.Topics = result.Topics[:topicCount]
	}
	for i := range result.Topics {
		result.Topics[i].Name = strings.TrimSpace(result.Topics[i].Name)
		if result.Topics[i].Priority == 0 {
			result.Topics[i].Priority = i + 1
		}
	}
	return result.Topics, nil
}

// GenerateLesson asks the LLM for a lesson on one plan topic. Review
// passes get a remediation-oriented prompt.
func (c *Client) GenerateLesson(ctx context.Context, objective string, topic model.TopicPlan, mastery float64, review bool) (*Lesson, error) {
	var lesson Lesson
	prompt := prompts.BuildLessonPrompt(objective, topic, mastery, review)
	if err := c.complete(ctx, prompt, 0.7, &lesson); err != nil {
		return nil, fmt.Errorf("generate lesson for %q: %w", topic.Name, err)
	}
	if lesson.Text == "" {
		return nil, fmt.Errorf("generate lesson for %q: LLM returned empty lesson", topic.Name)
	}
	return &lesson, nil
}

// GenerateQuiz asks the LLM for a multiple-choice quiz on a topic.
func (c *Client) GenerateQuiz(ctx context.Context, objective string, topic model.TopicPlan, questionCount int) ([]model.QuizQuestion, error) {
	var result struct {
		Questions []model.QuizQuestion `json:"questions"`
	}
	prompt := prompts.BuildQuizPrompt(objective, topic, questionCount)
	if err := c.complete(ctx, prompt, 0.5, &result); err != nil {
		return nil, fmt.Errorf("generate quiz for %q: %w", topic.Name, err)
	}
	if len(result.Questions) == 0 {
		return nil, fmt.Errorf("generate quiz for %q: LLM returned no questions", topic.Name)
	}
	return result.Questions, nil
}

// EvaluateQuiz asks the LLM to grade the user's answers. The questions
// must carry their UserAnswer fields.
func (c *Client) EvaluateQuiz(ctx context.Context, topicName string, questions []model.QuizQuestion) (*EvalResult, error) {
	var result EvalResult
	prompt := prompts.BuildEvalPrompt(topicName, questions)
	if err := c.complete(ctx, prompt, 0.1, &result); err != nil {
		return nil, fmt.Errorf("evaluate quiz for %q: %w", topicName, err)
	}
	if result.Score < 0 {
		result.Score = 0
	}
	if result.Score > 1 {
		result.Score = 1
	}
	return &result, nil
}

// complete runs one JSON-mode chat completion and unmarshals the
// response into out.
func (c *Client) complete(ctx context.Context, systemPrompt string, temperature float32, out any) error {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: temperature,
	})
	if err != nil {
		return fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)

	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	return nil
}
