package bus

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

const deliveryQueueSize = 1024

// Broker is an in-process Bus. Each subscription drains its own delivery
// queue on a dedicated goroutine, so per-topic arrival order is preserved
// while distinct subscriptions deliver concurrently.
type Broker struct {
	mu     sync.Mutex
	subs   map[string]map[int64]*subscription
	topics map[string]bool
	nextID int64
}

// New returns an empty in-process broker.
func New() *Broker {
	return &Broker{
		subs:   make(map[string]map[int64]*subscription),
		topics: make(map[string]bool),
	}
}

type subscription struct {
	broker *Broker
	topic  string
	id     int64
	fn     Handler

	queue chan Message
	done  chan struct{}
	once  sync.Once
}

// Topic returns the subscribed topic name.
func (s *subscription) Topic() string {
	return s.topic
}

// Unsubscribe detaches the subscription and stops its delivery goroutine.
func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.broker.mu.Lock()
		if topicSubs, ok := s.broker.subs[s.topic]; ok {
			delete(topicSubs, s.id)
			if len(topicSubs) == 0 {
				delete(s.broker.subs, s.topic)
			}
		}
		s.broker.mu.Unlock()
		close(s.done)
	})
}

func (s *subscription) run() {
	for {
		select {
		case msg := <-s.queue:
			s.fn(msg)
		case <-s.done:
			return
		}
	}
}

// Announce registers a topic with discovery without publishing to it.
func (b *Broker) Announce(topic string) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return
	}
	b.mu.Lock()
	b.topics[topic] = true
	b.mu.Unlock()
}

// Subscribe attaches a handler to a topic.
func (b *Broker) Subscribe(topic string, fn Handler) (Subscription, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("subscribe: topic is required")
	}
	if fn == nil {
		return nil, fmt.Errorf("subscribe: handler is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscription{
		broker: b,
		topic:  topic,
		id:     b.nextID,
		fn:     fn,
		queue:  make(chan Message, deliveryQueueSize),
		done:   make(chan struct{}),
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int64]*subscription)
	}
	b.subs[topic][sub.id] = sub
	go sub.run()
	return sub, nil
}

// Publish delivers a message to every subscription on the topic and registers
// the topic with discovery.
func (b *Broker) Publish(topic, typeTag string, payload []byte) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return fmt.Errorf("publish: topic is required")
	}

	msg := Message{Topic: topic, Type: typeTag, Payload: payload}

	b.mu.Lock()
	b.topics[topic] = true
	receivers := make([]*subscription, 0, len(b.subs[topic]))
	for _, sub := range b.subs[topic] {
		receivers = append(receivers, sub)
	}
	b.mu.Unlock()

	for _, sub := range receivers {
		select {
		case sub.queue <- msg:
		case <-sub.done:
		}
	}
	return nil
}

// KnownTopics returns a sorted snapshot of discovered topics.
func (b *Broker) KnownTopics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.topics))
	for name := range b.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
