package archive

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// ErrInvalidLocator indicates a malformed archive locator string.
var ErrInvalidLocator = errors.New("invalid archive locator")

// Locator identifies a named archive store.
//
// Two forms are supported:
//   - a filesystem path (optionally prefixed with "file:") selecting a
//     persistent on-disk archive, and
//   - "file:<name>?mode=memory" selecting an anonymous in-memory archive
//     addressed by logical name, shareable across handles in one process.
type Locator struct {
	// Memory selects the anonymous in-memory mode.
	Memory bool
	// Name is the logical name of an in-memory archive.
	Name string
	// Path is the cleaned filesystem path of an on-disk archive.
	Path string
}

// ParseLocator parses a locator string.
func ParseLocator(raw string) (Locator, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Locator{}, fmt.Errorf("%w: empty locator", ErrInvalidLocator)
	}

	if !strings.HasPrefix(raw, "file:") {
		return Locator{Path: filepath.Clean(raw)}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Locator{}, fmt.Errorf("%w: %v", ErrInvalidLocator, err)
	}

	name := u.Opaque
	if name == "" {
		name = u.Path
	}
	if name == "" {
		return Locator{}, fmt.Errorf("%w: missing archive name in %q", ErrInvalidLocator, raw)
	}

	query := u.Query()
	if query.Get("mode") == "memory" {
		return Locator{Memory: true, Name: name}, nil
	}
	return Locator{Path: filepath.Clean(name)}, nil
}

// Key returns the process-wide registry key addressing this archive.
func (l Locator) Key() string {
	if l.Memory {
		return "mem:" + l.Name
	}
	return "file:" + l.Path
}

// String renders the locator in its canonical textual form.
func (l Locator) String() string {
	if l.Memory {
		return "file:" + l.Name + "?mode=memory&cache=shared"
	}
	return l.Path
}

func (l Locator) dsn() string {
	if l.Memory {
		return ":memory:"
	}
	return l.Path + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
}
