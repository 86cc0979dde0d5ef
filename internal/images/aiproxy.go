package images

import (
	"bytes"
	"context"
	"encoding/base64"
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
)

const (
	endpointImageGenerations = "v1/images/generations"
	defaultTimeout           = 2 * time.Minute
	errorSnippetLimit        = 400
)

// AIProxy generates images through an OpenAI-compatible images endpoint.
type AIProxy struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	size       string
}

var _ Generator = (*AIProxy)(nil)

// NewAIProxy creates an image generator for the proxy in cfg.
func NewAIProxy(cfg config.AIProxySettings, size string) *AIProxy {
	return &AIProxy{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		size:       size,
	}
}

type generationRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format"`
}

type generationResponse struct {
	Created int64 `json:"created"`
	Data    []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

func (c *AIProxy) Generate(ctx context.Context, prompt string) (Image, error) {
	if strings.TrimSpace(prompt) == "" {
		return Image{}, errors.New("prompt is empty")
	}
	u, err := url.JoinPath(c.baseURL, endpointImageGenerations)
	if err != nil {
		return Image{}, fmt.Errorf("join url: %w", err)
	}
	body, err := json.Marshal(generationRequest{
		Model:          c.model,
		Prompt:         prompt,
		N:              1,
		Size:           c.size,
		ResponseFormat: "b64_json",
	})
	if err != nil {
		return Image{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return Image{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", common.ContentTypeJSON)
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Image{}, ctx.Err()
		}
		return Image{}, fmt.Errorf("http do: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet := string(respBytes)
		if len(snippet) > errorSnippetLimit {
			snippet = snippet[:errorSnippetLimit] + "..."
		}
		return Image{}, fmt.Errorf("aiproxy status %d: %s", resp.StatusCode, snippet)
	}

	var gen generationResponse
	if err := json.Unmarshal(respBytes, &gen); err != nil {
		return Image{}, fmt.Errorf("parse response: %w", err)
	}
	if len(gen.Data) == 0 || gen.Data[0].B64JSON == "" {
		return Image{}, errors.New("no image returned")
	}
	data, err := base64.StdEncoding.DecodeString(gen.Data[0].B64JSON)
	if err != nil {
		return Image{}, fmt.Errorf("decode image: %w", err)
	}
	return Image{Data: data, MimeType: sniff(data)}, nil
}

func sniff(data []byte) string {
	switch ct := http.DetectContentType(data); ct {
	case common.MimeImageJPEG, common.MimeImageWebP:
		return ct
	}
	return common.MimeImagePNG
}
