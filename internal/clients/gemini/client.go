// Package gemini provides a client for the Google Gemini API
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/bobmcallan/casevault/internal/common"
	"github.com/bobmcallan/casevault/internal/interfaces"
)

const (
	DefaultModel          = "gemini-3-flash-preview"
	DefaultMaxURLs        = 20
	DefaultMaxContentSize = 34 * 1024 * 1024 // 34MB
)

// Client implements the GeminiClient interface
type Client struct {
	client         *genai.Client
	model          string
	maxURLs        int
	maxContentSize int64
	logger         *common.Logger
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithModel sets the model to use
func WithModel(model string) ClientOption {
	return func(c *Client) {
		c.model = model
	}
}

// WithMaxURLs sets the maximum URLs for URL context
func WithMaxURLs(maxURLs int) ClientOption {
	return func(c *Client) {
		c.maxURLs = maxURLs
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new Gemini client
func NewClient(ctx context.Context, apiKey string, opts ...ClientOption) (*Client, error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	c := &Client{
		client:         genaiClient,
		model:          DefaultModel,
		maxURLs:        DefaultMaxURLs,
		maxContentSize: DefaultMaxContentSize,
		logger:         common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Close closes the client
func (c *Client) Close() error {
	// The genai client doesn't have a Close method
	return nil
}

// GenerateContent generates AI content from a prompt
func (c *Client) GenerateContent(ctx context.Context, prompt string) (string, error) {
	c.logger.Debug().Str("model", c.model).Msg("Generating content")

	contents := genai.Text(prompt)
	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	return extractTextFromResponse(result)
}

// GenerateWithURLContext generates content using Gemini's URL context tool.
// If urls are provided, they are prepended to the prompt as reference URLs.
func (c *Client) GenerateWithURLContext(ctx context.Context, prompt string, urls ...string) (string, error) {
	c.logger.Debug().Str("model", c.model).Int("urls", len(urls)).Msg("Generating content with URL context")

	if len(urls) > 0 {
		var sb strings.Builder
		sb.WriteString("Reference URLs:\n")
		for _, u := range urls {
			sb.WriteString("- ")
			sb.WriteString(u)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
		sb.WriteString(prompt)
		prompt = sb.String()
	}

	contents := genai.Text(prompt)
	config := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{URLContext: &genai.URLContext{}}},
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("failed to generate content with URL context: %w", err)
	}

	return extractTextFromResponse(result)
}

// extractTextFromResponse extracts text from a generate content response
func extractTextFromResponse(result *genai.GenerateContentResponse) (string, error) {
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no content generated")
	}

	text := ""
	for _, part := range result.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
	}

	return text, nil
}

// SummarizeEmail generates a short summary and classification for an archived
// email's extracted text, used by the content-analysis worker when a model
// key is configured.
func (c *Client) SummarizeEmail(ctx context.Context, subject, body string) (string, error) {
	prompt := buildEmailSummaryPrompt(subject, body)
	return c.GenerateContent(ctx, prompt)
}

// buildEmailSummaryPrompt creates a prompt asking for a short, factual
// summary plus a coarse content classification of an archived email.
func buildEmailSummaryPrompt(subject, body string) string {
	const maxBodyChars = 20000
	if len(body) > maxBodyChars {
		body = body[:maxBodyChars]
	}

	var sb strings.Builder
	sb.WriteString("Summarize the following email in 2-3 sentences and classify its content ")
	sb.WriteString("as one of: correspondence, invoice, contract, notice, other.\n\n")
	sb.WriteString(fmt.Sprintf("Subject: %s\n\n", subject))
	sb.WriteString(body)
	return sb.String()
}

// Ensure Client implements GeminiClient
var _ interfaces.GeminiClient = (*Client)(nil)
