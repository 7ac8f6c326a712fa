package feed_test

import (
	"testing"

	"shopfeed/internal/feed"
)

// ─────────────────────────────────────────────────────────────
// Key normalizer tests
// ─────────────────────────────────────────────────────────────

func TestNormalizeKey_Cases(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"title", "title"},
		{"sp.handle", "sp_handle"},
		{"Größe (cm)", "Groe_cm"}, // ß has no NFKD decomposition and is dropped
		{"café au lait", "cafe_au_lait"},
		{"  spaced   out  ", "spaced_out"},
		{"a--b__c", "a_b_c"},
		{"3dmodel", "_3dmodel"},
		{"UPPER.Case", "UPPER_Case"},
		{"!!!", "attribute"},
		{"", "attribute"},
		{"日本語", "attribute"},
		{"price€", "price"},
	}
	for _, c := range cases {
		if got := feed.NormalizeKey(c.in); got != c.want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeKey_Idempotent(t *testing.T) {
	inputs := []string{"sp.handle", "café au lait", "3d model", "!!!", "a.b.c-d"}
	for _, in := range inputs {
		once := feed.NormalizeKey(in)
		twice := feed.NormalizeKey(once)
		if once != twice {
			t.Errorf("NormalizeKey not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestNormalizeKey_Alphabet(t *testing.T) {
	// Every output must match ^_?[A-Za-z0-9_]*$ with no leading digit.
	inputs := []string{"1 weird key!", "ü", "a€b", "--9--", "x.y.z"}
	for _, in := range inputs {
		out := feed.NormalizeKey(in)
		if out == "" {
			t.Errorf("NormalizeKey(%q) produced empty key", in)
			continue
		}
		if out[0] >= '0' && out[0] <= '9' {
			t.Errorf("NormalizeKey(%q) = %q starts with a digit", in, out)
		}
		for i := 0; i < len(out); i++ {
			c := out[i]
			ok := c == '_' ||
				(c >= 'a' && c <= 'z') ||
				(c >= 'A' && c <= 'Z') ||
				(c >= '0' && c <= '9')
			if !ok {
				t.Errorf("NormalizeKey(%q) = %q contains invalid byte %q", in, out, c)
			}
		}
	}
}
