// Package fallback implements the schema-bound structured generation call
// used to fill module fields that no deterministic rule could populate.
package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"canon/internal/modules"
)

// ErrEmptyResponse is returned when the model produces no choices.
var ErrEmptyResponse = errors.New("model returned no content")

const systemPrompt = `You fill structured attributes for a catalogue record.
Answer with a single JSON object that conforms to the provided JSON Schema.
Only include the requested fields. Omit any field the observations do not support; never guess.`

// Generator asks a language model for the missing fields of one module.
type Generator struct {
	model       llms.Model
	temperature float64
}

// Option configures a Generator.
type Option func(*Generator)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(g *Generator) {
		g.temperature = t
	}
}

// New wraps an existing model.
func New(model llms.Model, opts ...Option) (*Generator, error) {
	if model == nil {
		return nil, errors.New("model is required")
	}
	g := &Generator{model: model}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// NewOpenAI builds a generator on an OpenAI-compatible endpoint.
func NewOpenAI(model, token, baseURL string, opts ...Option) (*Generator, error) {
	clientOpts := []openai.Option{openai.WithModel(model)}
	if token != "" {
		clientOpts = append(clientOpts, openai.WithToken(token))
	}
	if baseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return New(llm, opts...)
}

// Generate implements modules.Generator. The caller owns the timeout and
// validates the returned document against the module schema.
func (g *Generator) Generate(ctx context.Context, req modules.GenerationRequest) (map[string]any, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, buildPrompt(req)),
	}
	resp, err := g.model.GenerateContent(ctx, messages,
		llms.WithJSONMode(),
		llms.WithTemperature(g.temperature),
	)
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", req.Module, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(stripFence(resp.Choices[0].Content)), &out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", req.Module, err)
	}
	return out, nil
}

func buildPrompt(req modules.GenerationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Module: %s\n", req.Module)
	if req.Instructions != "" {
		fmt.Fprintf(&b, "Instructions: %s\n", req.Instructions)
	}
	fmt.Fprintf(&b, "Fields to fill (dotted paths): %s\n", strings.Join(req.Fields, ", "))
	fmt.Fprintf(&b, "JSON Schema:\n%s\n", req.Schema)
	b.WriteString("Observations:\n")
	for _, k := range slices.Sorted(maps.Keys(req.Observations)) {
		fmt.Fprintf(&b, "- %s: %s\n", k, req.Observations[k])
	}
	return b.String()
}

// stripFence removes a Markdown code fence some models wrap JSON in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
