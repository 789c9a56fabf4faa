// Package record captures pub/sub traffic into a message archive.
package record

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/louisbranch/tapedeck/internal/archive"
	"github.com/louisbranch/tapedeck/internal/bus"
	"github.com/louisbranch/tapedeck/internal/catalog"
	"github.com/louisbranch/tapedeck/internal/topics"
)

var (
	// ErrAlreadyActive indicates Start was called on a recorder that is not idle.
	ErrAlreadyActive = errors.New("recorder is not idle")
	// ErrStorageOpen indicates the archive could not be opened.
	ErrStorageOpen = errors.New("recorder storage open failed")
	// ErrNoTopics indicates the topic selection resolved to nothing.
	ErrNoTopics = errors.New("no topics selected")
)

// State is the recorder lifecycle state.
type State int

const (
	// Idle accepts topic selections; recording has not begun.
	Idle State = iota
	// Active is recording deliveries into the archive.
	Active
	// Stopped is terminal. A new recorder must be constructed to record again.
	Stopped
)

// Option configures a Recorder.
type Option func(*Recorder)

// WithCatalog registers finished recordings in the BoltDB catalog at path.
func WithCatalog(path string) Option {
	return func(r *Recorder) {
		r.catalogPath = path
	}
}

// Recorder subscribes to selected topics and appends arriving messages to an
// archive, stamping each with its capture time.
type Recorder struct {
	mu          sync.Mutex
	state       State
	bus         bus.Bus
	sel         *topics.Selector
	catalogPath string
	session     *session
}

// session owns the live subscriptions and archive writer handle. It is the
// single token moved by Handoff.
type session struct {
	archive *archive.Archive
	locator string
	subs    []bus.Subscription
	topics  []string
	started time.Time
	count   atomic.Int64
	dropped atomic.Int64
}

// New returns an idle recorder that will subscribe through b.
func New(b bus.Bus, opts ...Option) *Recorder {
	r := &Recorder{bus: b, sel: topics.New()}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// AddTopic selects an exact topic name for recording. Valid only while idle;
// the name is resolved against the transport's currently known topics.
func (r *Recorder) AddTopic(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Idle {
		return false
	}
	return r.sel.Add(name, r.bus.KnownTopics())
}

// AddTopicPattern selects every currently known topic matching the expression
// and returns the match count. Valid only while idle.
func (r *Recorder) AddTopicPattern(expr string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Idle {
		return 0, nil
	}
	return r.sel.AddPattern(expr, r.bus.KnownTopics())
}

// Start opens the archive addressed by locator, resolves the topic selection
// against the transport, subscribes, and begins recording.
func (r *Recorder) Start(locator string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Idle {
		return ErrAlreadyActive
	}

	resolved := r.sel.Resolve(r.bus.KnownTopics())
	if len(resolved) == 0 {
		return ErrNoTopics
	}

	a, err := archive.Open(locator)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageOpen, err)
	}

	sess := &session{
		archive: a,
		locator: locator,
		topics:  resolved,
		started: time.Now(),
	}
	for _, topic := range resolved {
		sub, err := r.bus.Subscribe(topic, sess.deliver)
		if err != nil {
			for _, s := range sess.subs {
				s.Unsubscribe()
			}
			_ = a.Close()
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		sess.subs = append(sess.subs, sub)
	}

	r.session = sess
	r.state = Active
	return nil
}

// deliver stamps the capture time and appends one message. Append failures
// are counted, not fatal: subsequent messages keep recording.
func (s *session) deliver(msg bus.Message) {
	rec := archive.Record{
		Topic:       msg.Topic,
		Type:        msg.Type,
		Payload:     msg.Payload,
		CaptureTime: time.Now(),
	}
	if err := s.archive.Append(context.Background(), rec); err != nil {
		s.dropped.Add(1)
		return
	}
	s.count.Add(1)
}

// Stop unsubscribes all topics and closes the archive writer handle.
// Idempotent; a stopped recorder cannot be restarted.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	sess := r.session
	r.session = nil
	r.state = Stopped
	catalogPath := r.catalogPath
	r.mu.Unlock()

	if sess == nil {
		return nil
	}

	for _, sub := range sess.subs {
		sub.Unsubscribe()
	}

	var regErr error
	if catalogPath != "" {
		regErr = registerRecording(catalogPath, sess)
	}

	if err := sess.archive.Close(); err != nil {
		return err
	}
	return regErr
}

func registerRecording(path string, sess *session) error {
	store, err := catalog.Open(path)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer store.Close()

	rec := catalog.Recording{
		Locator:  sess.locator,
		Topics:   sess.topics,
		Started:  sess.started.UTC(),
		Ended:    time.Now().UTC(),
		Messages: sess.count.Load(),
	}
	if err := store.Put(rec); err != nil {
		return fmt.Errorf("register recording: %w", err)
	}
	return nil
}

// Handoff atomically transfers the pending selection and, when active, the
// live session to a new recorder. The source becomes stopped and inert: its
// Stop no longer tears anything down.
func (r *Recorder) Handoff() *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()

	moved := &Recorder{
		bus:         r.bus,
		sel:         r.sel.Clone(),
		catalogPath: r.catalogPath,
		state:       r.state,
		session:     r.session,
	}
	r.session = nil
	r.state = Stopped
	return moved
}

// Active reports whether the recorder is currently recording.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == Active
}

// Topics returns the resolved topic names of the running session.
func (r *Recorder) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return nil
	}
	return append([]string(nil), r.session.topics...)
}

// Count returns the number of records appended by the running session.
func (r *Recorder) Count() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return 0
	}
	return r.session.count.Load()
}

// Dropped returns the number of deliveries whose append failed.
func (r *Recorder) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return 0
	}
	return r.session.dropped.Load()
}
