// Package publish defines where finished articles are sent.
package publish

import (
	"bytes"
	"context"
	"fmt"

	"github.com/yuin/goldmark"
)

// Post is an article ready for publishing.
type Post struct {
	JobID     string
	Title     string
	Slug      string
	Markdown  string
	Excerpt   string
	Keywords  []string
	ImagePath string // optional featured image on local disk
}

// Published identifies the post on the remote system.
type Published struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Publisher sends a post to a blog.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, p Post) (Published, error)
}

// HTML renders Markdown to HTML.
func HTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}
