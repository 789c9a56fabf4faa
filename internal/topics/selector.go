// Package topics implements the include/exclude topic selection algebra used
// by recording and playback.
//
// A selector holds explicit topic names and regular-expression patterns, each
// with an exclusion counterpart. Patterns are resolved eagerly against the
// known-topics snapshot supplied at mutation time, never against the index's
// future growth.
package topics

import (
	"fmt"
	"regexp"
	"sort"
)

// Selector accumulates topic selections. The zero value selects everything.
// Selector is not safe for concurrent use; callers serialize access.
type Selector struct {
	includeExact   map[string]bool
	includeMatched map[string]bool
	excludeExact   map[string]bool
	excludeMatched map[string]bool
}

// New returns an empty selector.
func New() *Selector {
	return &Selector{
		includeExact:   make(map[string]bool),
		includeMatched: make(map[string]bool),
		excludeExact:   make(map[string]bool),
		excludeMatched: make(map[string]bool),
	}
}

// Clone returns an independent copy of the selector state.
func (s *Selector) Clone() *Selector {
	c := New()
	for name := range s.includeExact {
		c.includeExact[name] = true
	}
	for name := range s.includeMatched {
		c.includeMatched[name] = true
	}
	for name := range s.excludeExact {
		c.excludeExact[name] = true
	}
	for name := range s.excludeMatched {
		c.excludeMatched[name] = true
	}
	return c
}

// Add includes an exact topic name. It reports false when the name is not in
// known, or when the addition has no effect because the topic is already
// fully included.
func (s *Selector) Add(name string, known []string) bool {
	if !contains(known, name) {
		return false
	}
	changed := !s.includeExact[name]
	s.includeExact[name] = true
	if s.excludeExact[name] {
		delete(s.excludeExact, name)
		changed = true
	}
	if s.excludeMatched[name] {
		delete(s.excludeMatched, name)
		changed = true
	}
	return changed
}

// AddPattern includes every known topic matching the expression and returns
// the match count. Invalid expressions are reported as errors.
func (s *Selector) AddPattern(expr string, known []string) (int, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return 0, fmt.Errorf("invalid topic pattern %q: %w", expr, err)
	}
	count := 0
	for _, name := range known {
		if !re.MatchString(name) {
			continue
		}
		count++
		s.includeMatched[name] = true
		delete(s.excludeExact, name)
		delete(s.excludeMatched, name)
	}
	return count, nil
}

// Remove excludes an exact topic name, dropping it from the include sets. It
// reports false when the name is not in known.
func (s *Selector) Remove(name string, known []string) bool {
	if !contains(known, name) {
		return false
	}
	delete(s.includeExact, name)
	delete(s.includeMatched, name)
	s.excludeExact[name] = true
	return true
}

// RemovePattern excludes every known topic matching the expression and
// returns the match count.
func (s *Selector) RemovePattern(expr string, known []string) (int, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return 0, fmt.Errorf("invalid topic pattern %q: %w", expr, err)
	}
	count := 0
	for _, name := range known {
		if !re.MatchString(name) {
			continue
		}
		count++
		delete(s.includeExact, name)
		delete(s.includeMatched, name)
		s.excludeMatched[name] = true
	}
	return count, nil
}

// Resolve computes the concrete topic set this selector currently applies to:
// the union of the include sets when non-empty, otherwise all known topics,
// minus the union of the exclude sets. The result is sorted.
func (s *Selector) Resolve(known []string) []string {
	base := make(map[string]bool)
	if len(s.includeExact) == 0 && len(s.includeMatched) == 0 {
		for _, name := range known {
			base[name] = true
		}
	} else {
		for name := range s.includeExact {
			base[name] = true
		}
		for name := range s.includeMatched {
			base[name] = true
		}
	}

	resolved := make([]string, 0, len(base))
	for name := range base {
		if s.excludeExact[name] || s.excludeMatched[name] {
			continue
		}
		resolved = append(resolved, name)
	}
	sort.Strings(resolved)
	return resolved
}

func contains(known []string, name string) bool {
	for _, k := range known {
		if k == name {
			return true
		}
	}
	return false
}
