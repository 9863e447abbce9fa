package discord

import (
	"strings"
	"testing"
)

func TestSplitMessageRespectsLimit(t *testing.T) {
	var builder strings.Builder
	builder.WriteString(strings.Repeat("a", 1500))
	builder.WriteString("\n\n")
	builder.WriteString(strings.Repeat("b", 1000))
	builder.WriteString("\n")
	builder.WriteString(strings.Repeat("c", 300))

	parts := SplitMessage(builder.String())
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	for i, part := range parts {
		if length := len([]rune(part)); length > messageLimit {
			t.Fatalf("part %d exceeds limit: %d", i, length)
		}
	}
	if parts[0] != strings.Repeat("a", 1500) {
		t.Fatalf("unexpected content in first part")
	}
	if !strings.HasPrefix(parts[1], "b") || !strings.HasSuffix(parts[1], strings.Repeat("c", 300)) {
		t.Fatalf("unexpected second part")
	}
}

func TestSplitMessageWithoutNewlines(t *testing.T) {
	parts := SplitMessage(strings.Repeat("x", messageLimit*2+10))
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(parts))
	}
	if len([]rune(parts[2])) != 10 {
		t.Fatalf("unexpected tail length %d", len([]rune(parts[2])))
	}
}

func TestFitContent(t *testing.T) {
	if got := FitContent("  hello \n"); got != "hello" {
		t.Fatalf("unexpected content %q", got)
	}
	if got := FitContent(""); got != "" {
		t.Fatalf("expected empty content, got %q", got)
	}
	if got := FitContent(strings.Repeat("й", messageLimit+1)); len([]rune(got)) != messageLimit {
		t.Fatalf("expected content cut to limit, got %d runes", len([]rune(got)))
	}
}
