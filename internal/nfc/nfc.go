package nfc

import (
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/zeebo/blake3"
)

const (
	minHexUIDLen = 8
	maxHexUIDLen = 32

	// minLegacyDigits is the shortest digit run treated as a legacy card number.
	minLegacyDigits = 6
)

var (
	vendorPrefix = regexp.MustCompile(`(?i)^NFC\s*[:\-]\s*`)
	legacyFC     = regexp.MustCompile(`(?i)^FC\s*([0-9]+)$`)
	trailingRun  = regexp.MustCompile(`[0-9]+$`)
)

// RawTag is the payload exactly as a reader delivered it.
type RawTag string

// CanonicalID is the normalized identifier derived from a RawTag.
type CanonicalID string

// Empty reports whether normalization produced nothing to look up.
func (c CanonicalID) Empty() bool { return c == "" }

// String implements fmt.Stringer.
func (c CanonicalID) String() string { return string(c) }

// CandidateSet is the ordered list of spellings checked against the directory.
type CandidateSet []string

// Normalize turns a raw reader payload into its canonical identifier.
//
// NUL bytes and a leading "NFC:"/"NFC-" vendor prefix are removed and the
// result trimmed. When what remains reduces to 8..32 hex digits the canonical
// form is those digits uppercased, otherwise the trimmed text is kept as is.
func Normalize(raw RawTag) CanonicalID {
	cleaned := strings.ReplaceAll(string(raw), "\x00", "")
	cleaned = vendorPrefix.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)

	compact := hexOnly(cleaned)
	if len(compact) >= minHexUIDLen && len(compact) <= maxHexUIDLen {
		return CanonicalID(strings.ToUpper(compact))
	}
	return CanonicalID(cleaned)
}

// Candidates expands a canonical identifier into every spelling the directory
// may hold for the same card. New readers emit bare hex UIDs while older staff
// cards were provisioned as prefixed, zero padded decimal numbers.
func Candidates(id CanonicalID) CandidateSet {
	base := string(id)
	if base == "" {
		return CandidateSet{""}
	}

	set := newOrderedSet()
	set.add(base, strings.ToLower(base), strings.ToUpper(base))

	if compact := hexOnly(base); compact != "" {
		set.add(compact, strings.ToUpper(compact), strings.ToLower(compact))
	}

	digits := legacyDigits(base)
	if len(digits) >= minLegacyDigits {
		variants := []string{digits}
		if len(digits) < 9 {
			variants = append(variants, leftPad(digits, 9))
		}
		if len(digits) < 10 {
			variants = append(variants, leftPad(digits, 10))
		}
		for _, n := range variants {
			set.add(n, "NFC-"+n, "TCH-"+n, "nfc-"+n, "tch-"+n)
		}
	}

	return set.items
}

// Resolve is Normalize followed by Candidates.
func Resolve(raw RawTag) (CanonicalID, CandidateSet) {
	id := Normalize(raw)
	return id, Candidates(id)
}

// Fingerprint returns a short stable digest of a canonical id. Logs and rate
// limit keys carry the fingerprint so raw card UIDs never leave the process.
func Fingerprint(id CanonicalID) string {
	sum := blake3.Sum256([]byte(id))
	return hex.EncodeToString(sum[:8])
}

func legacyDigits(base string) string {
	if m := legacyFC.FindStringSubmatch(base); m != nil {
		return m[1]
	}
	return trailingRun.FindString(base)
}

func hexOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func leftPad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (s *orderedSet) add(values ...string) {
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := s.seen[v]; ok {
			continue
		}
		s.seen[v] = struct{}{}
		s.items = append(s.items, v)
	}
}
