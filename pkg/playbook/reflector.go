package playbook

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	errs "github.com/ace-agents/playbook/pkg/errors"
	"github.com/ace-agents/playbook/pkg/logging"
)

// Reflector proposes additional candidate tips from a completed run. It is
// an optional enrichment step: failures yield zero tips and never affect
// the curator's own output.
type Reflector interface {
	Reflect(ctx context.Context, entry *RunEntry) ([]Tip, error)
}

const reflectionPrompt = "You are an analyst generating 1-3 concise tips to improve future runs of a task. " +
	"Return bullet tips only, no preamble.\n\nRun data:\n"

const reflectedTipConfidence = 0.6

// AnthropicReflector asks an Anthropic model for extra tips.
type AnthropicReflector struct {
	client  *anthropic.Client
	model   anthropic.Model
	maxTips int
}

// NewAnthropicReflector creates a reflector backed by the Anthropic API.
func NewAnthropicReflector(apiKey, model string, maxTips int) (*AnthropicReflector, error) {
	if apiKey == "" {
		return nil, errs.New(errs.InvalidInput, "API key is required")
	}
	if maxTips <= 0 {
		maxTips = 3
	}
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)
	return &AnthropicReflector{
		client:  &client,
		model:   anthropic.Model(model),
		maxTips: maxTips,
	}, nil
}

// Reflect sends the sanitized run data to the model and parses bullet lines
// from the response into candidate tips.
func (r *AnthropicReflector) Reflect(ctx context.Context, entry *RunEntry) ([]Tip, error) {
	logger := logging.GetLogger()

	runData, err := json.Marshal(map[string]any{
		"task":    entry.Task,
		"outcome": entry.Outcome,
		"errors":  entry.Errors,
		"actions": entry.Actions,
	})
	if err != nil {
		return nil, errs.Wrap(err, errs.ReflectionFailed, "failed to encode run data")
	}

	message, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model: r.model,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(reflectionPrompt + string(runData)),
			),
		},
		MaxTokens: 512,
	})
	if err != nil {
		return nil, errs.WithFields(
			errs.Wrap(err, errs.ReflectionFailed, "reflection call failed"),
			errs.Fields{"model": string(r.model)})
	}
	if message == nil || len(message.Content) == 0 {
		return nil, errs.New(errs.ReflectionFailed, "received empty response from Anthropic API")
	}

	var responseText string
	if block := message.Content[0]; block.Type == "text" {
		responseText = block.Text
	}

	logger.Debug(ctx, "reflector proposed tips: %d prompt tokens, %d completion tokens",
		message.Usage.InputTokens, message.Usage.OutputTokens)

	return ParseReflectedTips(responseText, entry, r.maxTips), nil
}

// ParseReflectedTips extracts up to maxTips bullet lines from a model
// response and turns them into candidate tips for the run's domain.
func ParseReflectedTips(text string, entry *RunEntry, maxTips int) []Tip {
	var tips []Tip
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*• \t")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		tips = append(tips, NewTip(
			truncate(line, outcomeTipMaxLen),
			entry.Signature, entry.Task, reflectedTipConfidence, entry.Domain,
		))
		if len(tips) >= maxTips {
			break
		}
	}
	return tips
}
