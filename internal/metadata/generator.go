// Package metadata enriches synced documents with an LLM-written summary and
// the API entities they mention.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/openai/openai-go"
)

// DefaultMaxTokens is the maximum content length before truncation (in tokens).
const DefaultMaxTokens = 16000

// DefaultModel is the chat model used for enrichment.
const DefaultModel = openai.ChatModelGPT4oMini

// DocumentMetadata contains LLM-generated metadata for a document.
type DocumentMetadata struct {
	Summary  string   `json:"summary"`
	Entities []string `json:"entities"`
}

// Generator produces document metadata with an OpenAI chat model.
type Generator struct {
	client    *openai.Client
	model     openai.ChatModel
	maxTokens int
	logger    *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

func WithModel(model string) Option {
	return func(g *Generator) { g.model = openai.ChatModel(model) }
}

func WithMaxTokens(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxTokens = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// NewGenerator creates a metadata generator with the given OpenAI client.
func NewGenerator(client *openai.Client, opts ...Option) *Generator {
	g := &Generator{
		client:    client,
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

const promptTemplate = `Analyze this page of the %s documentation and provide:
1. A concise summary (1-2 sentences) capturing the main topic and key points
2. A list of the functions, types, commands or configuration keys it documents

Document path: %s

Document content:
%s

Respond in JSON format:
{"summary": "Brief description of what this document covers", "entities": ["Entity1", "Entity2"]}`

// Generate analyzes document content and produces a summary and entity list.
func (g *Generator) Generate(ctx context.Context, library, path, content string) (*DocumentMetadata, error) {
	prompt := fmt.Sprintf(promptTemplate, library, path, g.truncateContent(path, content))

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: g.model,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}
	return parseResponse(resp.Choices[0].Message.Content)
}

func parseResponse(raw string) (*DocumentMetadata, error) {
	var md DocumentMetadata
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	md.Summary = strings.TrimSpace(md.Summary)
	entities := md.Entities[:0]
	seen := make(map[string]bool, len(md.Entities))
	for _, e := range md.Entities {
		e = strings.TrimSpace(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		entities = append(entities, e)
	}
	md.Entities = entities
	return &md, nil
}

// truncateContent cuts content to roughly maxTokens at four characters per
// token without splitting a UTF-8 sequence.
func (g *Generator) truncateContent(path, content string) string {
	maxChars := g.maxTokens * 4
	if len(content) <= maxChars {
		return content
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	g.logger.Warn("Truncating document for metadata generation",
		"path", path, "bytes", len(content), "kept", cut, "max_tokens", g.maxTokens)
	return content[:cut]
}
