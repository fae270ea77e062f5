// Package identgrammar validates the opaque identifier grammar shared by
// room IDs and user IDs throughout the server.
package identgrammar

import "regexp"

// pattern is the identifier grammar: 1 to 64 characters drawn from letters,
// digits, underscore, and hyphen.
var pattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Valid reports whether id conforms to the shared identifier grammar.
func Valid(id string) bool {
	return pattern.MatchString(id)
}
