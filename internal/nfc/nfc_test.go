package nfc

import (
	"slices"
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  RawTag
		want CanonicalID
	}{
		{name: "vendor prefix colon", raw: "NFC:12ab34cd", want: "12AB34CD"},
		{name: "vendor prefix dash lowercase", raw: "nfc - 04a3b2c1", want: "04A3B2C1"},
		{name: "nul bytes and spaces", raw: "\x0004:A3:B2:C1:D5:E6:F7\x00 ", want: "04A3B2C1D5E6F7"},
		{name: "short hex kept literal", raw: " abc123 ", want: "abc123"},
		{name: "non hex literal keeps case", raw: "Staff Card 7", want: "Staff Card 7"},
		{name: "legacy fc payload", raw: "FC243848647", want: "FC243848647"},
		{name: "too long for uid", raw: RawTag(strings.Repeat("ab", 17)), want: CanonicalID(strings.Repeat("ab", 17))},
		{name: "empty", raw: "", want: ""},
		{name: "only nul", raw: "\x00\x00", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.raw); got != tt.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {
	payloads := []RawTag{"NFC:12ab34cd", "FC243848647", "  nfc-0A:0B:0C:0D ", "TCH-000123456", "\x00", "x"}
	for _, raw := range payloads {
		first := Normalize(raw)
		if second := Normalize(raw); second != first {
			t.Fatalf("Normalize(%q) = %q then %q", raw, first, second)
		}
		if again := Normalize(RawTag(first)); again != first {
			t.Fatalf("Normalize is not idempotent for %q: %q -> %q", raw, first, again)
		}
	}
}

func TestCandidatesLegacyFC(t *testing.T) {
	set := Candidates(Normalize("FC243848647"))
	for _, want := range []string{
		"FC243848647",
		"243848647",
		"NFC-243848647",
		"TCH-243848647",
		"nfc-243848647",
		"tch-243848647",
		"0243848647",
		"NFC-0243848647",
	} {
		if !slices.Contains(set, want) {
			t.Fatalf("candidate set %v missing %q", set, want)
		}
	}
}

func TestCandidatesPadding(t *testing.T) {
	set := Candidates("NFC123456")
	for _, want := range []string{"123456", "000123456", "0000123456", "TCH-000123456", "nfc-0000123456"} {
		if !slices.Contains(set, want) {
			t.Fatalf("candidate set %v missing %q", set, want)
		}
	}
}

func TestCandidatesShortDigitRunSkipsLegacyForms(t *testing.T) {
	set := Candidates("12AB34CD")
	for _, c := range set {
		if strings.HasPrefix(strings.ToUpper(c), "NFC-") || strings.HasPrefix(strings.ToUpper(c), "TCH-") {
			t.Fatalf("unexpected legacy candidate %q in %v", c, set)
		}
	}
	if set[0] != "12AB34CD" || !slices.Contains(set, "12ab34cd") {
		t.Fatalf("unexpected seed candidates %v", set)
	}
}

func TestCandidatesNeverEmptyAndDeduplicated(t *testing.T) {
	for _, id := range []CanonicalID{"", "A", "12AB34CD", "FC243848647", "Staff Card 7", "999999"} {
		set := Candidates(id)
		if len(set) == 0 {
			t.Fatalf("Candidates(%q) is empty", id)
		}
		if set[0] != string(id) {
			t.Fatalf("Candidates(%q) first element = %q", id, set[0])
		}
		seen := map[string]bool{}
		for _, c := range set {
			if seen[c] {
				t.Fatalf("Candidates(%q) has duplicate %q", id, c)
			}
			seen[c] = true
		}
	}
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint("12AB34CD")
	if a != Fingerprint("12AB34CD") || len(a) != 16 {
		t.Fatalf("unexpected fingerprint %q", a)
	}
	if a == Fingerprint("12AB34CE") {
		t.Fatal("distinct ids share a fingerprint")
	}
}
