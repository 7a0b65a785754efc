package tenancy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxIdentifierLength matches the Postgres NAMEDATALEN limit, the strictest
// of the supported backends.
const MaxIdentifierLength = 63

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// ValidateIdentifier checks that name is a legal tenant identifier for every
// supported backend. The default tenant is rejected unless allowDefault is set.
func ValidateIdentifier(name, defaultTenant string, allowDefault bool) error {
	switch {
	case name == "":
		return errors.Join(ErrInvalidIdentifier, errors.New("identifier is empty"))
	case len(name) > MaxIdentifierLength:
		return errors.Join(ErrInvalidIdentifier, fmt.Errorf("identifier %q is longer than %d bytes", name, MaxIdentifierLength))
	case !identifierPattern.MatchString(name):
		return errors.Join(ErrInvalidIdentifier, fmt.Errorf("identifier %q contains illegal characters", name))
	case !allowDefault && name == defaultTenant:
		return errors.Join(ErrInvalidIdentifier, fmt.Errorf("identifier %q is the reserved default tenant", name))
	}
	return nil
}

var foldMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// IdentifierFromName derives a tenant identifier from a display name:
// "Café Müller & Söhne" → "cafe_muller_sohne". Marks are folded to ASCII,
// every other run of non-alphanumerics becomes one underscore and a leading
// digit gets a "t_" prefix. The result may still collide with the default
// tenant; run it through ValidateIdentifier before use.
func IdentifierFromName(name string) string {
	folded, _, err := transform.String(foldMarks, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	b.Grow(len(folded))
	sep := true
	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			sep = false
		case !sep:
			b.WriteByte('_')
			sep = true
		}
	}

	id := strings.TrimSuffix(b.String(), "_")
	if id != "" && id[0] >= '0' && id[0] <= '9' {
		id = "t_" + id
	}
	if len(id) > MaxIdentifierLength {
		id = strings.TrimSuffix(id[:MaxIdentifierLength], "_")
	}
	return id
}
