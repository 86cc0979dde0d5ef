package mock

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jo-hoe/pinwriter/internal/config"
)

func TestMockLLM_WriteArticle(t *testing.T) {
	c := New(config.MockSettings{Delay: 0, Prefix: "MockPrefix"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	a, err := c.WriteArticle(ctx, "Toddler Sleep")
	if err != nil {
		t.Fatalf("WriteArticle error: %v", err)
	}
	if a.Title != "Toddler Sleep: A Practical Guide" {
		t.Fatalf("title = %q", a.Title)
	}
	if !strings.Contains(a.Markdown, "MockPrefix") || !strings.HasPrefix(a.Excerpt, "MockPrefix") {
		t.Fatalf("article missing prefix: %+v", a)
	}
	if len(a.Keywords) != 4 || a.Keywords[1] != "toddler sleep" {
		t.Fatalf("keywords = %v", a.Keywords)
	}
}

func TestMockLLM_RespectsContextCancel(t *testing.T) {
	c := New(config.MockSettings{Delay: 200 * time.Millisecond, Prefix: "x"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.WriteArticle(ctx, "x"); err == nil {
		t.Fatalf("expected context cancellation error")
	}
}
