/*
identity.go - Identity key normalization

PURPOSE:
  Derives the canonical user key from a free-text display name. The key is
  the stable join column across submissions: "Shaz Ahmed" and "shaz ahmed"
  must land on the same rows.

FOLDING RULE:
  lower(trim(name)) with a fixed ASCII-safe fold. The rule is deliberately
  locale-independent: a locale-sensitive fold (e.g. Turkish dotless i) would
  silently fragment identities already in storage if the server environment
  changed. Do not change this rule without a data migration.
*/
package tracker

import "strings"

// NormalizeIdentity returns the canonical identity key for a display name.
// Pure and stable: the same input always yields the same key. An empty or
// whitespace-only name normalizes to the empty key; callers reject those
// before storage is involved.
func NormalizeIdentity(displayName string) string {
	trimmed := strings.TrimSpace(displayName)
	// ASCII-only fold. strings.ToLower is locale-independent in Go, but the
	// explicit byte loop documents the contract: only A-Z are folded.
	var b strings.Builder
	b.Grow(len(trimmed))
	for i := 0; i < len(trimmed); i++ {
		c := trimmed[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		b.WriteByte(c)
	}
	return b.String()
}
