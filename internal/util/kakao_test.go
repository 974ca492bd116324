package util

import (
	"strings"
	"testing"
)

func TestFoldAfterHeaderKeepsHeaderVisible(t *testing.T) {
	out := FoldAfterHeader("TOP 3\n1. a\n2. b\n3. c", "TOP 3")
	if !strings.HasPrefix(out, "TOP 3"+KakaoZeroWidthSpace) {
		t.Fatalf("header should lead the preview: %q", out[:20])
	}
	if !strings.HasSuffix(out, "\n1. a\n2. b\n3. c") {
		t.Fatalf("body should follow the padding")
	}
	if strings.Count(out, "TOP 3") != 1 {
		t.Fatalf("header duplicated")
	}
}

func TestShortName(t *testing.T) {
	if got := ShortName("가나다라마바", 4); got != "가나다라…" {
		t.Fatalf("ShortName = %q", got)
	}
	if got := ShortName(" bob ", 4); got != "bob" {
		t.Fatalf("ShortName = %q", got)
	}
}
