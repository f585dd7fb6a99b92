// Package blocklist implements an immutable exact-match set of
// blocked domain names.
//
// Adapted from the teacher's internal/engine/rpz.go RPZ type, cut down
// to spec.md §4.2's scope: no wildcards, no rewrite targets, no
// passthrough overrides — just membership. Wildcard blocking is an
// explicit open question spec.md leaves unresolved (§9); this project
// declines to invent that behavior.
package blocklist

import "strings"

// Set is an immutable set of normalized domain names, built once at
// startup. It needs no synchronization for reads because it never
// changes after construction — the same reasoning the teacher applies
// to its own immutable-after-load structures.
type Set struct {
	domains map[string]struct{}
}

// normalize lowercases a domain name and drops one trailing dot. Names
// from internal/wire never carry a trailing dot (see internal/wire's
// parseName), so the TrimSuffix only affects operator-supplied names
// (CLI flags, fetched lists), keeping them consistent either way.
func normalize(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}

// New builds a Set from an explicit list of domain names.
func New(domains []string) *Set {
	s := &Set{domains: make(map[string]struct{}, len(domains))}
	for _, d := range domains {
		d = normalize(d)
		if d == "" {
			continue
		}
		s.domains[d] = struct{}{}
	}
	return s
}

// Contains reports whether name is blocked, exact match only.
func (s *Set) Contains(name string) bool {
	_, ok := s.domains[normalize(name)]
	return ok
}

// Len reports how many distinct domains are blocked.
func (s *Set) Len() int {
	return len(s.domains)
}
