package bus

import (
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestPublishDeliversInOrder(t *testing.T) {
	b := New()

	var mu sync.Mutex
	var got []string
	sub, err := b.Subscribe("/foo", func(msg Message) {
		mu.Lock()
		got = append(got, string(msg.Payload))
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	for _, payload := range []string{"1", "2", "3"} {
		if err := b.Publish("/foo", "text", []byte(payload)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(got, []string{"1", "2", "3"}) {
		t.Fatalf("expected ordered delivery, got %v", got)
	}
}

func TestSubscribeValidation(t *testing.T) {
	b := New()
	if _, err := b.Subscribe("", func(Message) {}); err == nil {
		t.Fatal("expected error for empty topic")
	}
	if _, err := b.Subscribe("/foo", nil); err == nil {
		t.Fatal("expected error for nil handler")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()

	var mu sync.Mutex
	count := 0
	sub, err := b.Subscribe("/foo", func(Message) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := b.Publish("/foo", "text", []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent

	if err := b.Publish("/foo", "text", []byte("y")); err != nil {
		t.Fatalf("publish after unsubscribe: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected no delivery after unsubscribe, got %d", count)
	}
}

func TestKnownTopicsFromAnnounceAndPublish(t *testing.T) {
	b := New()
	if topics := b.KnownTopics(); len(topics) != 0 {
		t.Fatalf("expected no topics, got %v", topics)
	}

	b.Announce("/foo")
	b.Announce("  ")
	if err := b.Publish("/bar", "text", nil); err != nil {
		t.Fatalf("publish: %v", err)
	}

	topics := b.KnownTopics()
	if !reflect.DeepEqual(topics, []string{"/bar", "/foo"}) {
		t.Fatalf("expected sorted topics, got %v", topics)
	}
}

func TestFanOutToMultipleSubscribers(t *testing.T) {
	b := New()

	var mu sync.Mutex
	counts := map[string]int{}
	for _, name := range []string{"first", "second"} {
		name := name
		sub, err := b.Subscribe("/foo", func(Message) {
			mu.Lock()
			counts[name]++
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("subscribe %s: %v", name, err)
		}
		defer sub.Unsubscribe()
	}

	if err := b.Publish("/foo", "text", []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return counts["first"] == 1 && counts["second"] == 1
	})
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
