package util

import (
	"strings"
	"unicode/utf8"
)

const (
	KakaoSeeMorePadding = 500
	KakaoZeroWidthSpace = "\u200b"
)

// 카카오톡 '전체보기'용 제로폭 문자를 채워 메시지를 확장.
func ApplyKakaoSeeMorePadding(text, instruction string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}

	message := strings.TrimSpace(instruction)

	var builder strings.Builder
	builder.Grow(len(text) + KakaoSeeMorePadding + len(message) + 2)

	if message != "" {
		builder.WriteString(message)
	}
	builder.WriteString(strings.Repeat(KakaoZeroWidthSpace, KakaoSeeMorePadding))
	if !strings.HasPrefix(text, "\n") {
		builder.WriteByte('\n')
	}
	builder.WriteString(text)

	return builder.String()
}

// 첫 줄에 중복된 헤더가 있으면 제거한다.
func StripLeadingHeader(text, header string) string {
	if strings.TrimSpace(text) == "" || strings.TrimSpace(header) == "" {
		return text
	}
	for _, sep := range []string{"\r\n\r\n", "\n\n", "\r\n", "\n", ""} {
		if candidate := header + sep; strings.HasPrefix(text, candidate) {
			return strings.TrimPrefix(text, candidate)
		}
	}
	return text
}

// 헤더는 미리보기에 남기고 본문은 '전체보기' 뒤로 접는다.
func FoldAfterHeader(text, header string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	return ApplyKakaoSeeMorePadding(StripLeadingHeader(text, header), header)
}

// 표시 이름을 n글자로 자르고 말줄임표를 붙인다.
func ShortName(name string, n int) string {
	name = strings.TrimSpace(name)
	if n <= 0 || utf8.RuneCountInString(name) <= n {
		return name
	}
	r := []rune(name)
	return string(r[:n]) + "…"
}
