package aiproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jo-hoe/pinwriter/internal/common"
	"github.com/jo-hoe/pinwriter/internal/config"
	"github.com/jo-hoe/pinwriter/internal/llm"
)

var _ llm.Client = (*Client)(nil)

const (
	// Headers
	headerContentType   = "Content-Type"
	headerAuthorization = "Authorization"

	// Auth
	authSchemeBearer = "Bearer"

	// Endpoints
	endpointChatCompletions = "v1/chat/completions"

	// Timeouts and limits
	defaultTimeout    = 3 * time.Minute
	errorSnippetLimit = 400

	// Defaults
	defaultSystemPrompt = "You are an experienced parenting blogger. You write warm, practical, evidence-informed articles for parents of babies and young children. Write in Markdown. Start with a single '# ' title line. Use short sections with '## ' headings. Do not add commentary outside the article."
	defaultInstructions = "Write a blog article of roughly 900 words about the topic below. Open with a two sentence introduction that works as an excerpt. End with a line 'Keywords: ' followed by five comma separated search keywords."
)

// Role represents the sender role for a chat message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Client implements llm.Client by calling an OpenAI-compatible AI Proxy.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	system      string
	instr       string
	temperature *float32
	maxTokens   *int
}

// New creates a new AI Proxy LLM client.
func New(cfg config.AIProxySettings) *Client {
	return &Client{
		httpClient:  newHTTPClient(),
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		system:      cfg.SystemPrompt,
		instr:       cfg.Instructions,
		temperature: optionalFloat32(cfg.Temperature),
		maxTokens:   optionalInt(cfg.MaxTokens),
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultTimeout}
}

// WriteArticle sends a chat completion request asking the model for an article on topic.
func (c *Client) WriteArticle(ctx context.Context, topic string) (llm.Article, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return llm.Article{}, errors.New("topic is empty")
	}

	u, err := url.JoinPath(c.baseURL, endpointChatCompletions)
	if err != nil {
		return llm.Article{}, fmt.Errorf("join url: %w", err)
	}

	bodyBytes, err := json.Marshal(c.buildRequestBody(topic))
	if err != nil {
		return llm.Article{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(bodyBytes))
	if err != nil {
		return llm.Article{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set(headerContentType, common.ContentTypeJSON)
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set(headerAuthorization, authSchemeBearer+" "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return llm.Article{}, ctx.Err()
		}
		return llm.Article{}, fmt.Errorf("http do: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return llm.Article{}, fmt.Errorf("aiproxy status %d: %s", resp.StatusCode, truncate(string(respBytes), errorSnippetLimit))
	}

	var comp chatCompletionResponse
	if err := json.Unmarshal(respBytes, &comp); err != nil {
		return llm.Article{}, fmt.Errorf("parse response: %w", err)
	}
	if len(comp.Choices) == 0 || strings.TrimSpace(comp.Choices[0].Message.Content) == "" {
		return llm.Article{}, fmt.Errorf("empty completion")
	}
	return llm.ParseMarkdown(topic, comp.Choices[0].Message.Content), nil
}

func (c *Client) buildRequestBody(topic string) chatCompletionRequest {
	sys := strings.TrimSpace(c.system)
	if sys == "" {
		sys = defaultSystemPrompt
	}
	instructions := strings.TrimSpace(c.instr)
	if instructions == "" {
		instructions = defaultInstructions
	}

	req := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: RoleSystem, Content: sys},
			{Role: RoleUser, Content: instructions + "\n\nTopic: " + topic},
		},
	}
	if c.temperature != nil {
		req.Temperature = c.temperature
	}
	if c.maxTokens != nil {
		req.MaxTokens = c.maxTokens
	}
	return req
}

func optionalFloat32(v float32) *float32 {
	if v == 0 {
		return nil
	}
	return &v
}

func optionalInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// OpenAI-compatible chat completions, reduced to the fields used here.

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}
