package fhir

import "strings"

// CanonicalReference identifies a conformance resource by its canonical URL
// and an optional version, independent of any storage id. FHIR serializes
// the pair as "url|version".
type CanonicalReference struct {
	URL     string
	Version string
}

// ParseCanonical splits a canonical string into URL and version. A reference
// without a "|" separator is versionless. Whitespace around the input is not
// meaningful and is trimmed.
func ParseCanonical(s string) CanonicalReference {
	s = strings.TrimSpace(s)
	if s == "" {
		return CanonicalReference{}
	}
	parts := strings.SplitN(s, "|", 2)
	ref := CanonicalReference{URL: parts[0]}
	if len(parts) == 2 {
		ref.Version = parts[1]
	}
	return ref
}

// String renders the reference in FHIR canonical syntax.
func (r CanonicalReference) String() string {
	if r.Version == "" {
		return r.URL
	}
	return r.URL + "|" + r.Version
}

// Key returns the identity used for dedup during resolution. A versionless
// reference carries a wildcard so it never collides with a pinned version of
// the same URL.
func (r CanonicalReference) Key() string {
	if r.Version == "" {
		return r.URL + "|*"
	}
	return r.URL + "|" + r.Version
}

// IsZero reports whether the reference is empty.
func (r CanonicalReference) IsZero() bool {
	return r.URL == ""
}
