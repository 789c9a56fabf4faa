package topics

import (
	"reflect"
	"testing"
)

var known = []string{"/foo", "/bar", "/baz"}

func TestRemoveThenResolveSubtractsFromAll(t *testing.T) {
	s := New()

	if !s.Remove("/foo", known) {
		t.Fatal("expected Remove of known topic to report true")
	}
	if !s.Remove("/baz", known) {
		t.Fatal("expected Remove of known topic to report true")
	}

	got := s.Resolve(known)
	if !reflect.DeepEqual(got, []string{"/bar"}) {
		t.Fatalf("expected {/bar}, got %v", got)
	}
}

func TestAddBackThenRemovePattern(t *testing.T) {
	s := New()
	s.Remove("/foo", known)
	s.Remove("/baz", known)

	if !s.Add("/foo", known) {
		t.Fatal("expected Add to undo exclusion")
	}
	if !s.Add("/baz", known) {
		t.Fatal("expected Add to undo exclusion")
	}

	count, err := s.RemovePattern("/b.*", known)
	if err != nil {
		t.Fatalf("remove pattern: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected pattern to match 2 topics, got %d", count)
	}

	got := s.Resolve(known)
	if !reflect.DeepEqual(got, []string{"/foo"}) {
		t.Fatalf("expected {/foo}, got %v", got)
	}
}

func TestAddUnknownTopicReportsFalse(t *testing.T) {
	s := New()
	if s.Add("/does-not-exist", known) {
		t.Fatal("expected Add of unknown topic to report false")
	}
	if s.Remove("/does-not-exist", known) {
		t.Fatal("expected Remove of unknown topic to report false")
	}
}

func TestAddPatternNoMatches(t *testing.T) {
	s := New()
	count, err := s.AddPattern("/does-not-exist", known)
	if err != nil {
		t.Fatalf("add pattern: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 matches, got %d", count)
	}
}

func TestAddPatternInvalidExpression(t *testing.T) {
	s := New()
	if _, err := s.AddPattern("(", known); err == nil {
		t.Fatal("expected invalid pattern error")
	}
	if _, err := s.RemovePattern("(", known); err == nil {
		t.Fatal("expected invalid pattern error")
	}
}

func TestAddAlreadyIncludedReportsFalse(t *testing.T) {
	s := New()
	if !s.Add("/foo", known) {
		t.Fatal("expected first Add to report true")
	}
	if s.Add("/foo", known) {
		t.Fatal("expected repeated Add to report false")
	}
}

func TestAddPatternMatchesAll(t *testing.T) {
	s := New()
	count, err := s.AddPattern(".*", known)
	if err != nil {
		t.Fatalf("add pattern: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 matches, got %d", count)
	}
	got := s.Resolve(known)
	if !reflect.DeepEqual(got, []string{"/bar", "/baz", "/foo"}) {
		t.Fatalf("expected all topics, got %v", got)
	}
}

func TestEmptySelectorResolvesToAllKnown(t *testing.T) {
	s := New()
	got := s.Resolve(known)
	if !reflect.DeepEqual(got, []string{"/bar", "/baz", "/foo"}) {
		t.Fatalf("expected all known topics, got %v", got)
	}
}

func TestPatternResolutionIsEager(t *testing.T) {
	s := New()
	if _, err := s.AddPattern("/f.*", known); err != nil {
		t.Fatalf("add pattern: %v", err)
	}

	// A topic appearing after the pattern was added is not captured by it.
	grown := append([]string{"/fresh"}, known...)
	got := s.Resolve(grown)
	if !reflect.DeepEqual(got, []string{"/foo"}) {
		t.Fatalf("expected eager pattern resolution, got %v", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := New()
	s.Add("/foo", known)

	c := s.Clone()
	c.Remove("/foo", known)

	if got := s.Resolve(known); !reflect.DeepEqual(got, []string{"/foo"}) {
		t.Fatalf("expected source selector untouched, got %v", got)
	}
	// With its only include removed, the clone falls back to all-known minus
	// the exclusion.
	if got := c.Resolve(known); !reflect.DeepEqual(got, []string{"/bar", "/baz"}) {
		t.Fatalf("expected clone exclusion, got %v", got)
	}
}
