package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAssets_DraftRoundTrip(t *testing.T) {
	tmp := t.TempDir()
	a := NewAssets(tmp)

	p, err := a.SaveDraft("job1", "Gentle Sleep Training: 5 Tips!", "# Hello\n")
	if err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}
	if want := filepath.Join(tmp, "drafts", "job1-gentle-sleep-training-5-tips.md"); p != want {
		t.Fatalf("draft path = %q, want %q", p, want)
	}
	got, err := a.ReadDraft(p)
	if err != nil {
		t.Fatalf("ReadDraft: %v", err)
	}
	if got != "# Hello\n" {
		t.Fatalf("draft content = %q", got)
	}

	// rewriting replaces the file
	if _, err := a.SaveDraft("job1", "Gentle Sleep Training: 5 Tips!", "# Again\n"); err != nil {
		t.Fatalf("SaveDraft again: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(tmp, "drafts"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected a single draft file, got %d", len(entries))
	}
}

func TestAssets_SaveImage(t *testing.T) {
	a := NewAssets(t.TempDir())

	p, err := a.SaveImage("job1", "Title", []byte{0x89, 'P', 'N', 'G'}, "image/png")
	if err != nil {
		t.Fatalf("SaveImage: %v", err)
	}
	if !strings.HasSuffix(p, "job1-title.png") {
		t.Fatalf("image path = %q", p)
	}
	if _, err := a.SaveImage("job1", "Title", []byte("x"), "image/gif"); err == nil {
		t.Fatalf("expected unsupported mime error")
	}
	if _, err := a.SaveImage("job1", "Title", nil, "image/png"); err == nil {
		t.Fatalf("expected empty image error")
	}
}

func TestAssets_SavePins(t *testing.T) {
	a := NewAssets(t.TempDir())
	p, err := a.SavePins("job1", []map[string]string{{"title": "a"}})
	if err != nil {
		t.Fatalf("SavePins: %v", err)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read pins: %v", err)
	}
	var out []map[string]string
	if err := json.Unmarshal(b, &out); err != nil || len(out) != 1 || out[0]["title"] != "a" {
		t.Fatalf("pins content = %s (%v)", b, err)
	}
}

func TestSlug(t *testing.T) {
	if got := Slug("   "); got != "untitled" {
		t.Fatalf("blank slug = %q", got)
	}
	long := Slug(strings.Repeat("word ", 40))
	if len(long) > maxSlugLen || strings.HasSuffix(long, "-") {
		t.Fatalf("slug not shortened cleanly: %q", long)
	}
}
