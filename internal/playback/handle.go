package playback

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/louisbranch/tapedeck/internal/archive"
	"github.com/louisbranch/tapedeck/internal/bus"
)

// Handle is the thread-safe control surface over one running replay session.
// All control operations may be called from any goroutine; they are
// linearized against the replay task through the session mutex, and every
// suspension point of the task is interruptible by a control signal.
type Handle struct {
	bus     bus.Bus
	archive *archive.Archive

	mu sync.Mutex
	// signal is closed and replaced to broadcast a control change to the
	// replay task's waits.
	signal chan struct{}

	paused        bool
	stopRequested bool
	step          stepState

	// virtualTime is the capture timestamp replay is positioned at. wallRef
	// anchors virtualRef to real time for deadline computation.
	virtualTime  time.Time
	virtualValid bool
	wallRef      time.Time
	virtualRef   time.Time

	seekTarget  time.Time
	seekPending bool

	topicSet    []string
	topicsDirty bool
	lastSeq     int64

	finished  bool
	stopped   bool
	readErr   error
	startWall time.Time
	endWall   time.Time
	done      chan struct{}

	published   atomic.Int64
	pubFailures atomic.Int64
}

func newHandle(b bus.Bus, a *archive.Archive, topicSet []string) *Handle {
	return &Handle{
		bus:       b,
		archive:   a,
		signal:    make(chan struct{}),
		topicSet:  topicSet,
		lastSeq:   -1,
		startWall: time.Now(),
		done:      make(chan struct{}),
	}
}

// wakeLocked broadcasts a state change to the replay task.
func (h *Handle) wakeLocked() {
	close(h.signal)
	h.signal = make(chan struct{})
}

func (h *Handle) terminalLocked() bool {
	return h.finished || h.stopped
}

// Pause suspends replay. Virtual log time freezes; no records are skipped or
// re-delivered. No-op when already paused or terminal.
func (h *Handle) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminalLocked() || h.paused {
		return
	}
	h.paused = true
	h.step = stepState{}
	h.wakeLocked()
}

// Resume continues replay, re-anchoring the wall reference so the next
// deadline is continuous with elapsed virtual time. A pending step window is
// cancelled. No-op when not paused.
func (h *Handle) Resume() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminalLocked() || !h.paused {
		return
	}
	h.paused = false
	h.step = stepState{}
	h.rebaseLocked()
	h.wakeLocked()
}

// rebaseLocked re-anchors wall time against the current virtual position.
func (h *Handle) rebaseLocked() {
	h.wallRef = time.Now()
	h.virtualRef = h.virtualTime
}

// Step advances replay from a paused state by the given span of virtual time:
// every record with capture time in [current, current+d) is published with
// normal pacing, then the session re-enters Paused. Reports false when the
// session is not paused.
func (h *Handle) Step(d time.Duration) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminalLocked() || !h.paused || d <= 0 {
		return false
	}
	h.paused = false
	if h.virtualValid {
		h.step = stepState{armed: true, deadline: h.virtualTime.Add(d)}
		h.rebaseLocked()
	} else {
		// Nothing has anchored virtual time yet; the window starts at the
		// first record the task reads.
		h.step = stepState{armed: true, awaitAnchor: true, duration: d}
	}
	h.wakeLocked()
	return true
}

// Seek repositions replay to the first record at or after t without
// publishing anything skipped over. Valid while playing or paused; two
// identical seeks followed by identical steps publish identical records.
func (h *Handle) Seek(t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminalLocked() {
		return
	}
	h.virtualTime = t
	h.virtualValid = true
	h.seekTarget = t
	h.seekPending = true
	h.step = stepState{}
	h.rebaseLocked()
	h.wakeLocked()
}

// Stop ends the session and waits for the replay task to exit. Idempotent;
// it may be entered from any non-terminal state.
func (h *Handle) Stop() {
	h.mu.Lock()
	if h.terminalLocked() {
		h.mu.Unlock()
		return
	}
	h.stopRequested = true
	h.wakeLocked()
	h.mu.Unlock()
	<-h.done
}

// WaitUntilFinished blocks until the session reaches Finished or Stopped.
func (h *Handle) WaitUntilFinished() {
	<-h.done
}

// Done returns a channel closed when the session reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Finished reports whether replay exhausted the resolved record sequence.
// It stays true when Stop is called after natural completion.
func (h *Handle) Finished() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.finished
}

// Stopped reports whether the session was stopped before completing.
func (h *Handle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// IsPaused reports whether the session is currently paused.
func (h *Handle) IsPaused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused && !h.terminalLocked()
}

// StartTime returns the wall-clock instant the session started.
func (h *Handle) StartTime() time.Time {
	return h.startWall
}

// EndTime returns the wall-clock instant the session reached a terminal
// state, or the zero time while it is still running.
func (h *Handle) EndTime() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.endWall
}

// CurrentTime tracks live wall-clock progress: the current instant while the
// session runs, and EndTime once it is terminal.
func (h *Handle) CurrentTime() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminalLocked() {
		return h.endWall
	}
	return time.Now()
}

// VirtualTime returns the virtual log time replay is positioned at. The
// second return is false until a first record or seek has anchored it.
func (h *Handle) VirtualTime() (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.virtualTime, h.virtualValid
}

// Err returns the archive read error that ended the session early, if any.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readErr
}

// Published returns the number of records republished so far.
func (h *Handle) Published() int64 {
	return h.published.Load()
}

// PublishFailures returns the number of transient publish failures the
// session skipped over.
func (h *Handle) PublishFailures() int64 {
	return h.pubFailures.Load()
}

// setTopics installs a re-resolved topic set; the replay task reopens its
// cursor at the next scheduling decision.
func (h *Handle) setTopics(topicSet []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminalLocked() {
		return
	}
	h.topicSet = topicSet
	h.topicsDirty = true
	h.wakeLocked()
}

func (h *Handle) terminateLocked(finished bool) {
	if h.terminalLocked() {
		return
	}
	if finished {
		h.finished = true
	} else {
		h.stopped = true
	}
	h.endWall = time.Now()
	close(h.done)
}

// run is the replay task: a single-threaded cooperative loop that owns the
// archive cursor and synchronizes with the control surface through the
// session mutex and signal channel.
func (h *Handle) run() {
	ctx := context.Background()

	h.mu.Lock()
	topicSet := h.topicSet
	h.mu.Unlock()

	it := h.archive.Iterate(ctx, topicSet, time.Time{})
	defer func() { it.Close() }()

	var pending *archive.Record

	for {
		h.mu.Lock()

		if h.stopRequested {
			h.terminateLocked(false)
			h.mu.Unlock()
			return
		}

		if h.seekPending {
			h.seekPending = false
			target := h.seekTarget
			topicSet := h.topicSet
			h.topicsDirty = false
			h.mu.Unlock()
			it.Close()
			it = h.archive.Iterate(ctx, topicSet, target)
			pending = nil
			continue
		}

		if h.topicsDirty {
			h.topicsDirty = false
			topicSet := h.topicSet
			after := h.virtualTime
			afterSeq := h.lastSeq
			valid := h.virtualValid
			h.mu.Unlock()
			it.Close()
			if valid {
				it = h.archive.IterateAfter(ctx, topicSet, after, afterSeq)
			} else {
				it = h.archive.Iterate(ctx, topicSet, time.Time{})
			}
			pending = nil
			continue
		}

		if h.paused {
			sig := h.signal
			h.mu.Unlock()
			<-sig
			continue
		}

		h.mu.Unlock()

		if pending == nil {
			if !it.Next() {
				h.mu.Lock()
				h.readErr = it.Err()
				h.terminateLocked(true)
				h.mu.Unlock()
				return
			}
			rec := it.Record()
			pending = &rec
		}

		h.mu.Lock()

		if !h.virtualValid {
			// The first record anchors virtual log time to wall time.
			h.virtualTime = pending.CaptureTime
			h.virtualValid = true
			h.rebaseLocked()
		}
		if h.step.awaitAnchor {
			h.step = stepState{armed: true, deadline: h.virtualTime.Add(h.step.duration)}
			h.rebaseLocked()
		}

		// The step window is half-open: a record at or past the deadline
		// re-enters Paused unpublished and stays pending.
		if h.step.armed && !pending.CaptureTime.Before(h.step.deadline) {
			h.step = stepState{}
			h.paused = true
			h.mu.Unlock()
			continue
		}

		deadline := h.wallRef.Add(pending.CaptureTime.Sub(h.virtualRef))
		sig := h.signal
		h.mu.Unlock()

		if delay := time.Until(deadline); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-sig:
				// A control operation landed mid-wait; re-check state with
				// the pending record retained.
				timer.Stop()
				continue
			}
		}

		h.mu.Lock()
		if h.stopRequested || h.paused || h.seekPending || h.topicsDirty {
			h.mu.Unlock()
			continue
		}
		h.mu.Unlock()

		rec := *pending
		pending = nil
		if err := h.bus.Publish(rec.Topic, rec.Type, rec.Payload); err != nil {
			// Transient publish failures are not fatal: keeping the timing
			// of subsequent records takes priority.
			h.pubFailures.Add(1)
		} else {
			h.published.Add(1)
		}

		h.mu.Lock()
		h.virtualTime = rec.CaptureTime
		h.lastSeq = rec.Seq
		h.mu.Unlock()
	}
}
