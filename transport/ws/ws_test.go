package ws

import "testing"

func TestNormalizeScheme(t *testing.T) {
	cases := map[string]string{
		"http://example.com/socket":   "ws://example.com/socket",
		"https://example.com/socket":  "wss://example.com/socket",
		"ws://example.com/socket":     "ws://example.com/socket",
		"wss://example.com/socket":    "wss://example.com/socket",
		"ftp://example.com/resource":  "ftp://example.com/resource",
	}
	for in, want := range cases {
		got, err := NormalizeScheme(in)
		if err != nil {
			t.Fatalf("NormalizeScheme(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("NormalizeScheme(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeSchemeRejectsUnparseable(t *testing.T) {
	_, err := NormalizeScheme("://bad")
	if err == nil {
		t.Fatalf("expected error for unparseable URL")
	}
}
