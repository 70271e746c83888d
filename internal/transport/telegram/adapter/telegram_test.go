package adapter

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitTextShortIsUnchanged(t *testing.T) {
	got := splitText("hello", 10, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitText(s, 10, "")
	if len(got) != 2 {
		t.Fatalf("chunks = %d, want 2: %q", len(got), got)
	}
	if got[0] != strings.Repeat("a", 6) || got[1] != strings.Repeat("b", 6) {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTextRespectsLimit(t *testing.T) {
	s := strings.Repeat("é", 25)
	got := splitText(s, 10, "")
	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
	for _, c := range got {
		if n := utf8.RuneCountInString(c); n > 10 {
			t.Fatalf("chunk has %d runes", n)
		}
	}
	if strings.Join(got, "") != s {
		t.Fatalf("content lost")
	}
}

func TestSplitTextAvoidsCuttingTags(t *testing.T) {
	s := "abcdefgh<b>bold</b>"
	got := splitText(s, 10, "HTML")
	if got[0] != "abcdefgh" {
		t.Fatalf("first chunk = %q, want cut before the tag", got[0])
	}
	if !strings.HasPrefix(got[1], "<b>") {
		t.Fatalf("second chunk = %q", got[1])
	}
}
