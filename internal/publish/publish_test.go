package publish

import (
	"strings"
	"testing"
)

func TestHTML(t *testing.T) {
	out, err := HTML("# Title\n\nSome *soft* words.\n")
	if err != nil {
		t.Fatalf("HTML: %v", err)
	}
	if !strings.Contains(out, "<h1>Title</h1>") || !strings.Contains(out, "<em>soft</em>") {
		t.Fatalf("unexpected html: %q", out)
	}
}
