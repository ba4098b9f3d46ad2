package fallback

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"canon/internal/modules"
)

type fakeModel struct {
	content string
	err     error
	prompt  string
}

func (m *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, msg := range messages {
		if msg.Role != llms.ChatMessageTypeHuman {
			continue
		}
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				m.prompt += text.Text
			}
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.content}}}, nil
}

func (m *fakeModel) Call(_ context.Context, prompt string, _ ...llms.CallOption) (string, error) {
	return m.content, m.err
}

func request() modules.GenerationRequest {
	return modules.GenerationRequest{
		Module:       "sports_facility",
		Instructions: "Count courts.",
		Fields:       []string{"padel_courts.indoor"},
		Schema:       []byte(`{"type":"object"}`),
		Observations: map[string]string{"name": "Leith Padel", "description": "2 indoor courts"},
	}
}

func TestGenerateDecodesJSON(t *testing.T) {
	model := &fakeModel{content: "```json\n{\"padel_courts\":{\"indoor\":2}}\n```"}
	g, err := New(model)
	require.NoError(t, err)

	out, err := g.Generate(context.Background(), request())
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"padel_courts": map[string]any{"indoor": float64(2)}}, out)
	assert.Contains(t, model.prompt, "padel_courts.indoor")
	assert.Contains(t, model.prompt, "- description: 2 indoor courts")
}

func TestGenerateErrors(t *testing.T) {
	t.Run("model error", func(t *testing.T) {
		g, _ := New(&fakeModel{err: errors.New("boom")})
		_, err := g.Generate(context.Background(), request())
		assert.ErrorContains(t, err, "boom")
	})

	t.Run("not json", func(t *testing.T) {
		g, _ := New(&fakeModel{content: "I think there are two"})
		_, err := g.Generate(context.Background(), request())
		assert.Error(t, err)
	})

	t.Run("nil model", func(t *testing.T) {
		_, err := New(nil)
		assert.Error(t, err)
	})
}
