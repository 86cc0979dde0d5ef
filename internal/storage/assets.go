// Package storage writes pipeline artifacts (drafts, images, pin sets) below
// the configured storage directory.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gosimple/slug"

	"github.com/jo-hoe/pinwriter/internal/common"
)

const maxSlugLen = 60

// Assets stores job artifacts on disk. Writes replace earlier files of the
// same job so a retried step does not leave duplicates behind.
type Assets struct {
	baseDir string
}

var allowedImageMimes = map[string]string{
	common.MimeImagePNG:  ".png",
	common.MimeImageJPEG: ".jpg",
	common.MimeImageWebP: ".webp",
}

// NewAssets creates an artifact store rooted at baseDir.
func NewAssets(baseDir string) *Assets {
	return &Assets{baseDir: baseDir}
}

// Slug returns the URL and file name friendly form of title.
func Slug(title string) string {
	s := slug.Make(title)
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "-")
	}
	if s == "" {
		s = "untitled"
	}
	return s
}

// SaveDraft writes the article Markdown to drafts/<job>-<slug>.md.
func (a *Assets) SaveDraft(jobID, title, markdown string) (string, error) {
	name := fmt.Sprintf("%s-%s.md", jobID, Slug(title))
	return a.write(common.DraftsDirName, name, []byte(markdown))
}

// ReadDraft loads a draft written by SaveDraft.
func (a *Assets) ReadDraft(path string) (string, error) {
	b, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 - path was produced by SaveDraft
	if err != nil {
		return "", fmt.Errorf("read draft: %w", err)
	}
	return string(b), nil
}

// SaveImage writes an image to images/<job>-<slug>.<ext>. Only png, jpeg
// and webp are accepted.
func (a *Assets) SaveImage(jobID, title string, data []byte, mimeType string) (string, error) {
	ext, ok := allowedImageMimes[strings.ToLower(strings.TrimSpace(mimeType))]
	if !ok {
		return "", fmt.Errorf("unsupported content type: %s", mimeType)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("image is empty")
	}
	name := fmt.Sprintf("%s-%s%s", jobID, Slug(title), ext)
	return a.write(common.ImagesDirName, name, data)
}

// SavePins writes the pin set of a job to pins/<job>.json.
func (a *Assets) SavePins(jobID string, pins any) (string, error) {
	b, err := json.MarshalIndent(pins, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal pins: %w", err)
	}
	return a.write(common.PinsDirName, jobID+".json", b)
}

// write stores data through a temp file and rename so readers never observe
// a partial file.
func (a *Assets) write(dir, name string, data []byte) (string, error) {
	target := filepath.Join(a.baseDir, dir)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", fmt.Errorf("ensure %s dir: %w", dir, err)
	}
	dst := filepath.Join(target, name)

	tmp, err := os.CreateTemp(target, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("create tmp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("rename %s: %w", name, err)
	}
	return dst, nil
}
