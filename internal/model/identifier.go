package model

import "regexp"

// IdentifierPattern matches cluster/node/index/source identifiers (spec §6).
var IdentifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{2,254}$`)

// ValidIdentifier reports whether id matches the identifier grammar.
func ValidIdentifier(id string) bool {
	return IdentifierPattern.MatchString(id)
}
