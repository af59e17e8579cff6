package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hearthware/cookd/internal/models"
)

// Client wraps the Anthropic API for recipe step rewrites. It
// implements adjust.Rewriter; a nil *Client is the supported "no model
// configured" state and the adjustment engine falls back to its
// heuristic catalog.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// rewrittenStep is the JSON shape the model is asked to return.
type rewrittenStep struct {
	Title      string   `json:"title"`
	Bullets    []string `json:"bullets"`
	Confidence float64  `json:"confidence"`
}

// buildRewritePrompt constructs the system and user prompts for a
// fix-it step rewrite.
func buildRewritePrompt(kind models.AdjustmentKind, step models.RecipeStep) (system string, user string) {
	system = `You rewrite a single cooking recipe step to rescue a dish from a specific problem. Return ONLY a JSON object with these fields:
- "title": the rewritten step title
- "bullets": array of instruction strings, the rescue actions first, then the remaining original instructions adapted as needed
- "confidence": a number from 0 to 1 for how confident you are the rewrite addresses the problem

Rules:
- Keep the rewrite practical for a home cook mid-recipe; no restaurant equipment
- Never drop safety-relevant instructions (doneness temperatures, raw ingredient handling)
- Preserve the original step's intent; only change what the problem requires
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	sb.WriteString("Problem: ")
	sb.WriteString(string(kind))
	sb.WriteString("\n\nStep title: ")
	sb.WriteString(step.Title)
	sb.WriteString("\n")
	if len(step.Bullets) > 0 {
		sb.WriteString("\nInstructions:\n")
		for _, b := range step.Bullets {
			sb.WriteString("- ")
			sb.WriteString(b)
			sb.WriteString("\n")
		}
	}
	user = sb.String()
	return
}

// RewriteStep asks the model to rewrite one step around the given
// problem and parses the structured result.
func (c *Client) RewriteStep(ctx context.Context, kind models.AdjustmentKind, step models.RecipeStep) (string, []string, float64, error) {
	if c == nil {
		return "", nil, 0, fmt.Errorf("no LLM client configured")
	}
	systemPrompt, userPrompt := buildRewritePrompt(kind, step)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", nil, 0, fmt.Errorf("anthropic API call: %w", err)
	}

	// Extract text from response
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	if text == "" {
		return "", nil, 0, fmt.Errorf("no text content in API response")
	}

	// Strip markdown fencing if present
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	var out rewrittenStep
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return "", nil, 0, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	if out.Confidence <= 0 || out.Confidence > 1 {
		out.Confidence = 0.5
	}
	return out.Title, out.Bullets, out.Confidence, nil
}
