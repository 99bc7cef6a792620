package chat_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Tyrowin/roomchat/internal/chat"
)

func TestSanitize(t *testing.T) {
	cases := []struct {
		name  string
		input string
		limit int
		want  string
	}{
		{name: "trims whitespace", input: "  hello \t\n", limit: 10, want: "hello"},
		{name: "normalizes crlf", input: "a\r\nb\r\nc", limit: 10, want: "a\nb\nc"},
		{name: "strips nul", input: "a\x00b", limit: 10, want: "ab"},
		{name: "nul between cr and lf", input: "a\r\x00\nb", limit: 10, want: "a\nb"},
		{name: "truncates", input: "abcdefgh", limit: 3, want: "abc"},
		{name: "truncates runes not bytes", input: "ééééé", limit: 2, want: "éé"},
		{name: "trims after truncating", input: "ab   cd", limit: 4, want: "ab"},
		{name: "padding does not count against limit", input: "  " + strings.Repeat("n", 30) + "  ", limit: 30, want: strings.Repeat("n", 30)},
		{name: "padded input over limit", input: "\t" + strings.Repeat("o", 95), limit: 90, want: strings.Repeat("o", 90)},
		{name: "no limit", input: strings.Repeat("x", 100), limit: 0, want: strings.Repeat("x", 100)},
		{name: "empty", input: " \r\n ", limit: 10, want: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, chat.Sanitize(tc.input, tc.limit))
		})
	}
}

func TestSanitizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"plain",
		"  padded  ",
		"line one\r\nline two",
		"\r\r\n\n weird \x00 endings",
		strings.Repeat("long ", 3000),
		"emoji 🎉 and accents àéîõü",
	}

	for _, input := range inputs {
		once := chat.Sanitize(input, chat.MaxTextLength)
		assert.Equal(t, once, chat.Sanitize(once, chat.MaxTextLength), "input %q", input)
		assert.NotContains(t, once, "\r\n")
		assert.NotContains(t, once, "\x00")
	}
}
