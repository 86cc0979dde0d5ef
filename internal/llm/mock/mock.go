package mock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jo-hoe/pinwriter/internal/config"
	"github.com/jo-hoe/pinwriter/internal/llm"
)

var _ llm.Client = (*Client)(nil)

// Client writes a canned article after an optional delay.
type Client struct {
	delay  time.Duration
	prefix string
}

// New creates a mock LLM client.
func New(cfg config.MockSettings) *Client {
	return &Client{delay: cfg.Delay, prefix: cfg.Prefix}
}

func (c *Client) WriteArticle(ctx context.Context, topic string) (llm.Article, error) {
	if err := ctx.Err(); err != nil {
		return llm.Article{}, err
	}
	if c.delay > 0 {
		t := time.NewTimer(c.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return llm.Article{}, ctx.Err()
		case <-t.C:
		}
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return llm.Article{}, fmt.Errorf("topic is empty")
	}
	md := fmt.Sprintf(`# %s: A Practical Guide

%s. Every family finds its own rhythm with %s, and small steps go a long way.

## Start small

Pick one change and keep it for a week before adding the next.

## Stay consistent

Children feel safe with predictable routines.

Keywords: parenting, %s, family, tips
`, topic, c.prefix, strings.ToLower(topic), strings.ToLower(topic))
	return llm.ParseMarkdown(topic, md), nil
}
