package pins

import (
	"reflect"
	"strings"
	"testing"

	"github.com/jo-hoe/pinwriter/internal/llm"
)

func TestBuilder_Build(t *testing.T) {
	b := NewBuilder(4, "Parenting Tips", "https://blog.example.com")
	a := llm.Article{Title: "Calm Bedtimes", Excerpt: "Bedtime can be hard.", Keywords: []string{"toddler sleep", "bedtime"}}

	got := b.Build(a, "/img.png", "")
	if len(got) != 4 {
		t.Fatalf("expected 4 pins, got %d", len(got))
	}
	if got[0].Title != "Calm Bedtimes" || got[1].Title != "Calm Bedtimes: What Every Parent Should Know" {
		t.Fatalf("unexpected titles: %q, %q", got[0].Title, got[1].Title)
	}
	for _, p := range got {
		if p.Link != "https://blog.example.com" || p.Board != "Parenting Tips" || p.ImagePath != "/img.png" {
			t.Fatalf("unexpected pin: %+v", p)
		}
		if p.Description != "Bedtime can be hard. #ToddlerSleep #Bedtime" {
			t.Fatalf("description = %q", p.Description)
		}
	}

	again := b.Build(a, "/img.png", "https://blog.example.com/?p=1")
	if again[0].Link != "https://blog.example.com/?p=1" {
		t.Fatalf("post url should win: %q", again[0].Link)
	}
}

func TestBuilder_DefaultsAndClipping(t *testing.T) {
	b := NewBuilder(0, "", "")
	long := strings.Repeat("x", 200)
	got := b.Build(llm.Article{Title: long}, "", "")
	if len(got) != 3 {
		t.Fatalf("default variations = %d", len(got))
	}
	if n := len([]rune(got[0].Title)); n > maxTitle {
		t.Fatalf("title not clipped: %d", n)
	}
	if got[0].Description != long {
		t.Fatalf("description should fall back to the title: %q", got[0].Description)
	}
}

func TestHashtags(t *testing.T) {
	got := Hashtags([]string{"toddler sleep", "Toddler-Sleep", "", "!!", "a", "b", "c", "d", "e"})
	want := []string{"#ToddlerSleep", "#A", "#B", "#C", "#D"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Hashtags = %v, want %v", got, want)
	}
}
