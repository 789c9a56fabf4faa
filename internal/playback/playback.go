// Package playback replays archived pub/sub traffic with its original
// inter-message timing under interactive transport control.
package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/louisbranch/tapedeck/internal/archive"
	"github.com/louisbranch/tapedeck/internal/bus"
	"github.com/louisbranch/tapedeck/internal/topics"
)

var (
	// ErrAlreadyStarted indicates Start was called twice on one playback.
	ErrAlreadyStarted = errors.New("playback already started")
	// ErrInert indicates the playback was handed off and no longer owns a session.
	ErrInert = errors.New("playback is inert after handoff")
)

// Playback prepares and launches replay sessions over one archive.
type Playback struct {
	mu      sync.Mutex
	bus     bus.Bus
	archive *archive.Archive
	sel     *topics.Selector
	handle  *Handle
	started bool
	inert   bool
}

// New opens the archive addressed by locator for replay through b.
func New(b bus.Bus, locator string) (*Playback, error) {
	a, err := archive.Open(locator)
	if err != nil {
		return nil, err
	}
	return &Playback{bus: b, archive: a, sel: topics.New()}, nil
}

// AddTopic includes an exact topic name, resolved against the archive's known
// topics. Valid before or after Start; post-Start changes take effect at the
// replay task's next scheduling decision.
func (p *Playback) AddTopic(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inert {
		return false
	}
	known, err := p.archive.KnownTopics(context.Background())
	if err != nil {
		return false
	}
	ok := p.sel.Add(name, known)
	p.pushTopicsLocked(known)
	return ok
}

// AddTopicPattern includes every known topic matching the expression and
// returns the match count.
func (p *Playback) AddTopicPattern(expr string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inert {
		return 0, ErrInert
	}
	known, err := p.archive.KnownTopics(context.Background())
	if err != nil {
		return 0, err
	}
	count, err := p.sel.AddPattern(expr, known)
	if err != nil {
		return 0, err
	}
	p.pushTopicsLocked(known)
	return count, nil
}

// RemoveTopic excludes an exact topic name from replay.
func (p *Playback) RemoveTopic(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inert {
		return false
	}
	known, err := p.archive.KnownTopics(context.Background())
	if err != nil {
		return false
	}
	ok := p.sel.Remove(name, known)
	p.pushTopicsLocked(known)
	return ok
}

// RemoveTopicPattern excludes every known topic matching the expression and
// returns the match count.
func (p *Playback) RemoveTopicPattern(expr string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inert {
		return 0, ErrInert
	}
	known, err := p.archive.KnownTopics(context.Background())
	if err != nil {
		return 0, err
	}
	count, err := p.sel.RemovePattern(expr, known)
	if err != nil {
		return 0, err
	}
	p.pushTopicsLocked(known)
	return count, nil
}

// pushTopicsLocked forwards the re-resolved topic set to a running session.
func (p *Playback) pushTopicsLocked(known []string) {
	if p.handle == nil {
		return
	}
	p.handle.setTopics(p.sel.Resolve(known))
}

// Start resolves the topic selection, opens a read cursor, and spawns the
// replay task. It returns the session's control handle without blocking.
func (p *Playback) Start() (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inert {
		return nil, ErrInert
	}
	if p.started {
		return nil, ErrAlreadyStarted
	}

	known, err := p.archive.KnownTopics(context.Background())
	if err != nil {
		return nil, err
	}
	resolved := p.sel.Resolve(known)

	h := newHandle(p.bus, p.archive, resolved)
	p.handle = h
	p.started = true
	go h.run()
	return h, nil
}

// Handle returns the control handle of the running session, or nil before Start.
func (p *Playback) Handle() *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handle
}

// Handoff atomically transfers ownership to a new Playback. Before Start it
// moves the pending topic selection; after Start it moves the live session.
// The source becomes inert: topic calls report no effect and Start fails.
func (p *Playback) Handoff() *Playback {
	p.mu.Lock()
	defer p.mu.Unlock()

	moved := &Playback{
		bus:     p.bus,
		archive: p.archive,
		sel:     p.sel.Clone(),
		handle:  p.handle,
		started: p.started,
	}
	p.handle = nil
	p.inert = true
	return moved
}

// Close stops any running session and releases the archive handle. Closing an
// inert playback is a no-op; ownership moved with the handoff.
func (p *Playback) Close() error {
	p.mu.Lock()
	h := p.handle
	inert := p.inert
	p.mu.Unlock()

	if inert {
		return nil
	}
	if h != nil {
		h.Stop()
	}
	return p.archive.Close()
}

// stepState tracks an armed Step window.
type stepState struct {
	armed bool
	// awaitAnchor defers the deadline computation until the first record
	// anchors virtual time (Step before anything has played).
	awaitAnchor bool
	duration    time.Duration
	deadline    time.Time
}
