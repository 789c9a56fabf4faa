package record

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/tapedeck/internal/archive"
	"github.com/louisbranch/tapedeck/internal/bus"
	"github.com/louisbranch/tapedeck/internal/catalog"
)

func TestAddTopicRequiresKnownTopic(t *testing.T) {
	b := bus.New()
	r := New(b)

	if r.AddTopic("/unknown") {
		t.Fatal("expected AddTopic of unknown topic to report false")
	}

	b.Announce("/foo")
	if !r.AddTopic("/foo") {
		t.Fatal("expected AddTopic of known topic to report true")
	}
}

func TestStartWithoutTopics(t *testing.T) {
	r := New(bus.New())
	err := r.Start("file:no-topics-test?mode=memory&cache=shared")
	if !errors.Is(err, ErrNoTopics) {
		t.Fatalf("expected ErrNoTopics, got %v", err)
	}
}

func TestStartWithBadLocator(t *testing.T) {
	b := bus.New()
	b.Announce("/foo")
	r := New(b)
	r.AddTopic("/foo")

	err := r.Start("   ")
	if !errors.Is(err, ErrStorageOpen) {
		t.Fatalf("expected ErrStorageOpen, got %v", err)
	}
	if !errors.Is(err, archive.ErrInvalidLocator) {
		t.Fatalf("expected wrapped locator error, got %v", err)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	const locator = "file:record-roundtrip-test?mode=memory&cache=shared"
	b := bus.New()
	for _, topic := range []string{"/foo", "/bar", "/baz"} {
		b.Announce(topic)
	}

	r := New(b)
	count, err := r.AddTopicPattern(".*")
	if err != nil {
		t.Fatalf("add topic pattern: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected pattern to match 3 topics, got %d", count)
	}

	if err := r.Start(locator); err != nil {
		t.Fatalf("start recorder: %v", err)
	}
	if err := r.Start(locator); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
	if r.AddTopic("/foo") {
		t.Fatal("expected AddTopic while active to report false")
	}

	const perTopic = 5
	for i := 0; i < perTopic; i++ {
		for _, topic := range []string{"/foo", "/bar", "/baz"} {
			payload := []byte(fmt.Sprintf("%s-%d", topic, i))
			if err := b.Publish(topic, "text", payload); err != nil {
				t.Fatalf("publish: %v", err)
			}
		}
	}

	waitFor(t, func() bool { return r.Count() == 3*perTopic })

	// Hold a second handle so the in-memory archive survives recorder stop.
	verify, err := archive.Open(locator)
	if err != nil {
		t.Fatalf("open verification handle: %v", err)
	}
	defer verify.Close()

	if err := r.Stop(); err != nil {
		t.Fatalf("stop recorder: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("second stop should be a no-op: %v", err)
	}

	ctx := context.Background()
	topics, err := verify.KnownTopics(ctx)
	if err != nil {
		t.Fatalf("known topics: %v", err)
	}
	if len(topics) != 3 {
		t.Fatalf("expected 3 topics, got %v", topics)
	}

	it := verify.Iterate(ctx, nil, time.Time{})
	defer it.Close()
	total := 0
	perTopicSeen := map[string]int{}
	var last time.Time
	for it.Next() {
		rec := it.Record()
		total++
		// Within a topic, payload suffixes must arrive in publish order.
		want := fmt.Sprintf("%s-%d", rec.Topic, perTopicSeen[rec.Topic])
		if string(rec.Payload) != want {
			t.Fatalf("topic %s out of order: got %s, want %s", rec.Topic, rec.Payload, want)
		}
		perTopicSeen[rec.Topic]++
		if rec.CaptureTime.Before(last) {
			t.Fatal("capture times not monotonically non-decreasing in total order")
		}
		last = rec.CaptureTime
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if total != 3*perTopic {
		t.Fatalf("expected %d records, got %d", 3*perTopic, total)
	}
}

func TestStopRegistersCatalogEntry(t *testing.T) {
	const locator = "file:record-catalog-test?mode=memory&cache=shared"
	catalogPath := filepath.Join(t.TempDir(), "catalog.db")

	b := bus.New()
	b.Announce("/foo")

	r := New(b, WithCatalog(catalogPath))
	r.AddTopic("/foo")
	if err := r.Start(locator); err != nil {
		t.Fatalf("start recorder: %v", err)
	}

	if err := b.Publish("/foo", "text", []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, func() bool { return r.Count() == 1 })

	if err := r.Stop(); err != nil {
		t.Fatalf("stop recorder: %v", err)
	}

	store, err := catalog.Open(catalogPath)
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	defer store.Close()

	rec, err := store.Get(locator)
	if err != nil {
		t.Fatalf("get recording: %v", err)
	}
	if rec.Messages != 1 {
		t.Fatalf("expected 1 recorded message, got %d", rec.Messages)
	}
	if len(rec.Topics) != 1 || rec.Topics[0] != "/foo" {
		t.Fatalf("expected recorded topics, got %v", rec.Topics)
	}
	if rec.Ended.Before(rec.Started) {
		t.Fatalf("expected ordered time range, got %v-%v", rec.Started, rec.Ended)
	}
}

func TestHandoffMovesLiveSession(t *testing.T) {
	const locator = "file:record-handoff-test?mode=memory&cache=shared"
	b := bus.New()
	b.Announce("/foo")

	source := New(b)
	source.AddTopic("/foo")
	if err := source.Start(locator); err != nil {
		t.Fatalf("start recorder: %v", err)
	}

	moved := source.Handoff()
	if source.Active() {
		t.Fatal("expected source to be inert after handoff")
	}
	if !moved.Active() {
		t.Fatal("expected destination to be active after handoff")
	}

	// Stopping the inert source must not tear down the moved session.
	if err := source.Stop(); err != nil {
		t.Fatalf("stop inert source: %v", err)
	}

	if err := b.Publish("/foo", "text", []byte("after-handoff")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, func() bool { return moved.Count() == 1 })

	verify, err := archive.Open(locator)
	if err != nil {
		t.Fatalf("open verification handle: %v", err)
	}
	defer verify.Close()

	if err := moved.Stop(); err != nil {
		t.Fatalf("stop destination: %v", err)
	}

	it := verify.Iterate(context.Background(), nil, time.Time{})
	defer it.Close()
	if !it.Next() {
		t.Fatalf("expected record delivered after handoff, iterate err: %v", it.Err())
	}
	if got := string(it.Record().Payload); got != "after-handoff" {
		t.Fatalf("unexpected payload %q", got)
	}
}

func TestHandoffBeforeStartMovesSelection(t *testing.T) {
	b := bus.New()
	b.Announce("/foo")

	source := New(b)
	source.AddTopic("/foo")
	moved := source.Handoff()

	if err := source.Start("file:handoff-idle-test?mode=memory&cache=shared"); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected inert source to refuse Start, got %v", err)
	}

	if err := moved.Start("file:handoff-idle-test?mode=memory&cache=shared"); err != nil {
		t.Fatalf("start moved recorder: %v", err)
	}
	if err := moved.Stop(); err != nil {
		t.Fatalf("stop moved recorder: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
