package iconpack

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// UnknownLabel replaces labels with nothing printable left after sanitizing
const UnknownLabel = "Unknown App"

const (
	maxLabelLen       = 35
	truncatedLabelLen = 32
	labelEllipsis     = "..."
)

// SanitizeLabel reduces an application label to the ASCII subset launchers
// render reliably. Accents are folded (é -> e), anything else outside
// letters, digits and " .,_()+!'-" becomes a space, whitespace is collapsed
// and labels longer than 35 characters are cut to 32 plus "...". A label
// written entirely in a non-Latin script becomes UnknownLabel.
func SanitizeLabel(label string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn))), label)
	if err != nil {
		folded = label
	}

	var b strings.Builder
	for _, r := range folded {
		if isLabelRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}

	out := strings.Join(strings.Fields(b.String()), " ")
	if out == "" {
		return UnknownLabel
	}
	if len(out) > maxLabelLen {
		out = strings.TrimRight(out[:truncatedLabelLen], " ") + labelEllipsis
	}
	return out
}

func isLabelRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune(" .,_()+!'-", r)
}
