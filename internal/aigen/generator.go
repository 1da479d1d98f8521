// Package aigen wraps the Gemini API for request analysis and report
// generation.
package aigen

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// DefaultModel is used when the config leaves a model unset.
const DefaultModel = "gemini-2.5-flash"

// ErrNotConfigured is returned when no API key is available.
var ErrNotConfigured = errors.New("aigen: api key not configured")

// Generator produces structured analyses at low temperature and report
// prose at a higher one.
type Generator struct {
	client        *genai.Client
	analysisModel string
	contentModel  string
}

// New dials the Gemini API. An empty key returns ErrNotConfigured so
// callers can fall back to heuristics.
func New(ctx context.Context, apiKey, analysisModel, contentModel string) (*Generator, error) {
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("aigen: create client: %w", err)
	}
	if analysisModel == "" {
		analysisModel = DefaultModel
	}
	if contentModel == "" {
		contentModel = DefaultModel
	}
	return &Generator{client: client, analysisModel: analysisModel, contentModel: contentModel}, nil
}

// ContentModel returns the model name used for prose generation.
func (g *Generator) ContentModel() string { return g.contentModel }

func (g *Generator) generate(ctx context.Context, model, prompt string, temperature float32, maxTokens int32) (string, error) {
	result, err := g.client.Models.GenerateContent(ctx, model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](temperature),
		MaxOutputTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("aigen: generate with %s: %w", model, err)
	}
	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("aigen: empty response from %s", model)
	}
	return text, nil
}

// AnalyzeRequest asks for a strict-JSON classification of the input.
func (g *Generator) AnalyzeRequest(ctx context.Context, input string) (string, error) {
	return g.generate(ctx, g.analysisModel, analysisPrompt(input), 0.3, 1024)
}

// GenerateReport produces the body of a forensic or consultancy report.
func (g *Generator) GenerateReport(ctx context.Context, kind, clientName, projectName, description string) (string, error) {
	return g.generate(ctx, g.contentModel, reportPrompt(kind, clientName, projectName, description), 0.7, 4096)
}
