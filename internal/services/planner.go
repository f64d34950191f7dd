package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	openai "github.com/sashabaranov/go-openai"
)

// PlannerService splits a single user prompt into per-clip script sections,
// one per clip, so each clip in the chain gets its own beat of the story
// instead of the same prompt repeated. Optional — when no OpenAI key is
// configured the caller falls back to prompt replication.
type PlannerService struct {
	client *openai.Client
}

func NewPlannerService(apiKey string) *PlannerService {
	return &PlannerService{
		client: openai.NewClient(apiKey),
	}
}

type scriptPlan struct {
	Sections []string `json:"sections"`
}

// SplitPrompt asks the model for exactly clipCount sections describing a
// continuous scene, each filmable in one short clip that picks up where the
// previous ended.
func (s *PlannerService) SplitPrompt(ctx context.Context, prompt string, clipCount int) ([]string, error) {
	systemPrompt := fmt.Sprintf(`You split a video concept into %d sequential shot descriptions.
Each section describes one continuous shot of roughly equal length. The shots
play back-to-back as one scene, so each section must continue naturally from
the previous one: same subjects, same setting, same visual style.
Respond with JSON: {"sections": ["...", "..."]} with exactly %d entries.`, clipCount, clipCount)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: "gpt-4o-mini",
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from openai")
	}

	var plan scriptPlan
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &plan); err != nil {
		log.Printf("[Planner] parse failed: %v", err)
		return nil, fmt.Errorf("failed to parse script plan: %w", err)
	}

	if len(plan.Sections) != clipCount {
		log.Printf("[Planner] expected %d sections, got %d — falling back to prompt replication", clipCount, len(plan.Sections))
		return nil, fmt.Errorf("planner returned %d sections, expected %d", len(plan.Sections), clipCount)
	}

	return plan.Sections, nil
}
