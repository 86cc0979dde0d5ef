// Package images generates featured images for articles.
package images

import (
	"context"
	"fmt"
	"strings"
)

// Image is generated image data.
type Image struct {
	Data     []byte
	MimeType string
}

// Generator produces an image for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (Image, error)
}

// Prompt builds the image prompt for an article.
func Prompt(title, excerpt string) string {
	p := fmt.Sprintf("A warm, bright, vertical blog header photo illustrating %q for a parenting blog. Soft natural light, no text.", strings.TrimSpace(title))
	if ex := strings.TrimSpace(excerpt); ex != "" {
		p += " Context: " + ex
	}
	return p
}
