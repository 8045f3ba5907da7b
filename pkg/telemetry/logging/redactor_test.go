package logging

import (
	"log/slog"
	"testing"
)

func TestRedactor_RedactString(t *testing.T) {
	r := NewRedactor()

	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"no pii here", "no pii here"},
		{"from jane@corp.io", "from j***@corp.io"},
		{"Authorization: Bearer abc.def", "Authorization: Bearer ***"},
		{"password=hunter2", "password: ***"},
	}

	for _, tt := range tests {
		if got := r.RedactString(tt.input); got != tt.want {
			t.Errorf("RedactString(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestRedactor_ReplaceAttr(t *testing.T) {
	r := NewRedactor()

	tests := []struct {
		name string
		attr slog.Attr
		want string
	}{
		{"sensitive key string", slog.String("api_token", "abcdefgh"), "abcd***"},
		{"short secret", slog.String("secret", "abc"), "***"},
		{"sensitive key non-string", slog.Int("seed", 42), "***"},
		{"plain", slog.String("bundle_version", "1.2.0"), "1.2.0"},
		{"plain int", slog.Int("count", 3), "3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.ReplaceAttr(nil, tt.attr)
			if got.Value.String() != tt.want {
				t.Errorf("ReplaceAttr() = %q, want %q", got.Value.String(), tt.want)
			}
		})
	}
}

func TestRedactEmail(t *testing.T) {
	tests := map[string]string{
		"a@b.com":     "a***@b.com",
		"@b.com":      "***@b.com",
		"not-an-addr": "not-an-addr",
	}
	for in, want := range tests {
		if got := RedactEmail(in); got != want {
			t.Errorf("RedactEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
