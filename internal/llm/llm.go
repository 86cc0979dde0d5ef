package llm

import (
	"context"
	"strings"
)

// Article is a generated blog post.
type Article struct {
	Title    string   `json:"title"`
	Markdown string   `json:"markdown"`
	Excerpt  string   `json:"excerpt"`
	Keywords []string `json:"keywords,omitempty"`
}

// Client defines the capability to write a blog article for a topic.
type Client interface {
	WriteArticle(ctx context.Context, topic string) (Article, error)
}

// ParseMarkdown derives an Article from model output. The first "# " heading
// is the title; the first paragraph after it becomes the excerpt. A trailing
// "Keywords:" line is removed from the body and split on commas.
func ParseMarkdown(topic, md string) Article {
	a := Article{Title: strings.TrimSpace(topic)}
	var body []string
	titled, seenText := false, false
	for _, line := range strings.Split(strings.ReplaceAll(md, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if a.Keywords == nil {
			if kw, ok := cutPrefixFold(trimmed, "keywords:"); ok {
				a.Keywords = splitKeywords(kw)
				continue
			}
		}
		if t, ok := strings.CutPrefix(trimmed, "# "); ok && !titled && !seenText {
			titled = true
			if t = strings.TrimSpace(t); t != "" {
				a.Title = t
			}
			continue
		}
		if trimmed != "" {
			seenText = true
		}
		body = append(body, line)
	}
	a.Markdown = "# " + a.Title + "\n\n" + strings.TrimSpace(strings.Join(body, "\n")) + "\n"
	a.Excerpt = firstParagraph(body)
	return a
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return "", false
}

func splitKeywords(s string) []string {
	out := []string{}
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

const maxExcerpt = 280

func firstParagraph(lines []string) string {
	var para []string
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" || strings.HasPrefix(l, "#") {
			if len(para) > 0 {
				break
			}
			continue
		}
		para = append(para, l)
	}
	ex := strings.Join(para, " ")
	if len(ex) > maxExcerpt {
		cut := strings.LastIndex(ex[:maxExcerpt], " ")
		if cut <= 0 {
			cut = maxExcerpt
		}
		ex = ex[:cut] + "..."
	}
	return ex
}
