// Package pins derives Pinterest pin variations from a finished article.
package pins

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/jo-hoe/pinwriter/internal/llm"
)

const (
	maxTitle       = 100
	maxDescription = 500
	maxHashtags    = 5
)

// Pin is one pin variation.
type Pin struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Link        string   `json:"link"`
	ImagePath   string   `json:"image_path,omitempty"`
	Board       string   `json:"board,omitempty"`
	Hashtags    []string `json:"hashtags,omitempty"`
}

// Builder produces a fixed number of variations per article.
type Builder struct {
	variations int
	board      string
	siteURL    string
}

// NewBuilder creates a builder. siteURL is the link used when an article has no post URL.
func NewBuilder(variations int, board, siteURL string) *Builder {
	if variations <= 0 {
		variations = 3
	}
	return &Builder{variations: variations, board: board, siteURL: siteURL}
}

var hooks = []string{
	"%s",
	"%s: What Every Parent Should Know",
	"Save This: %s",
	"%s (Simple Tips That Work)",
	"New Parent Guide: %s",
}

// Build returns the pin variations in a stable order.
func (b *Builder) Build(a llm.Article, imagePath, postURL string) []Pin {
	link := postURL
	if link == "" {
		link = b.siteURL
	}
	tags := Hashtags(a.Keywords)
	desc := a.Excerpt
	if desc == "" {
		desc = a.Title
	}
	if len(tags) > 0 {
		desc = desc + " " + strings.Join(tags, " ")
	}
	desc = clip(desc, maxDescription)

	out := make([]Pin, 0, b.variations)
	for i := 0; i < b.variations; i++ {
		out = append(out, Pin{
			Title:       clip(fmt.Sprintf(hooks[i%len(hooks)], a.Title), maxTitle),
			Description: desc,
			Link:        link,
			ImagePath:   imagePath,
			Board:       b.board,
			Hashtags:    tags,
		})
	}
	return out
}

// Hashtags turns keywords into de-duplicated "#CamelCase" tags.
func Hashtags(keywords []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, k := range keywords {
		var sb strings.Builder
		upper := true
		for _, r := range k {
			switch {
			case unicode.IsLetter(r) || unicode.IsDigit(r):
				if upper {
					r = unicode.ToUpper(r)
					upper = false
				}
				sb.WriteRune(r)
			default:
				upper = true
			}
		}
		tag := sb.String()
		if tag == "" || seen[strings.ToLower(tag)] {
			continue
		}
		seen[strings.ToLower(tag)] = true
		out = append(out, "#"+tag)
		if len(out) == maxHashtags {
			break
		}
	}
	return out
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-3])) + "..."
}
