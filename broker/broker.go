package broker

import (
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/mbocsi/e4stream/proto"
)

// Wildcard subscribes to every stream.
const Wildcard = "*"

type Subscriber interface {
	Send(proto.Sample) error
	ID() string
}

// Broker fans decoded samples out to subscribers by stream code and remembers
// the latest sample of each stream.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[Subscriber]struct{} // Map stream code to hashset of subscribers

	latest    map[string]proto.Sample
	lastTag   *proto.Sample
	published uint64
}

func NewBroker() *Broker {
	return &Broker{
		subs:   make(map[string]map[Subscriber]struct{}),
		latest: make(map[string]proto.Sample),
	}
}

func (b *Broker) Subscribe(topic string, sub Subscriber) {
	slog.Debug("Subscribing", "topic", topic, "subscriber", sub.ID())
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[Subscriber]struct{})
	}
	b.subs[topic][sub] = struct{}{}
}

func (b *Broker) Unsubscribe(topic string, sub Subscriber) {
	slog.Debug("Unsubscribing", "topic", topic, "subscriber", sub.ID())
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribeLocked(topic, sub)
}

// UnsubscribeAll removes sub from every topic it is subscribed to.
func (b *Broker) UnsubscribeAll(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.subs {
		if _, ok := subs[sub]; ok {
			b.unsubscribeLocked(topic, sub)
		}
	}
}

func (b *Broker) unsubscribeLocked(topic string, sub Subscriber) {
	subs, ok := b.subs[topic]
	if !ok {
		return
	}
	if _, exists := subs[sub]; !exists {
		slog.Warn("Did not find subscriber in topic to unsubscribe", "topic", topic, "subscriber", sub.ID())
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.subs, topic)
	}
}

func (b *Broker) Publish(sample proto.Sample) {
	b.mu.Lock()
	b.latest[sample.Stream] = sample
	if sample.IsTag() {
		tag := sample
		b.lastTag = &tag
	}
	b.published++
	targets := make([]Subscriber, 0, len(b.subs[sample.Stream])+len(b.subs[Wildcard]))
	for sub := range b.subs[sample.Stream] {
		targets = append(targets, sub)
	}
	for sub := range b.subs[Wildcard] {
		if _, dup := b.subs[sample.Stream][sub]; !dup {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range targets {
		// Full buffers are logged by the subscriber at debug level.
		if err := sub.Send(sample); err != nil && !errors.Is(err, ErrBufferFull) {
			slog.Warn("There was an error publishing a sample to a subscriber", "stream", sample.Stream, "subscriber", sub.ID(), "error", err.Error())
		}
	}
}

func (b *Broker) Latest(stream string) (proto.Sample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.latest[stream]
	return s, ok
}

// Snapshot returns the latest sample of every stream seen so far.
func (b *Broker) Snapshot() map[string]proto.Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.latest)
}

func (b *Broker) LastTag() (proto.Sample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.lastTag == nil {
		return proto.Sample{}, false
	}
	return *b.lastTag, true
}

func (b *Broker) Published() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.published
}

func (b *Broker) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Sorted(maps.Keys(b.subs))
}
