package pubsub

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DirectConfig controls the direct pub/sub variant's queue sizing and
// back-pressure tuning (spec.md §6: subscriber_timeout_ms,
// publish_batch_size).
type DirectConfig struct {
	// BatchSize is the capacity of each subscriber's pending-message
	// queue. Messages are delivered one at a time; they are not
	// coalesced into batches.
	BatchSize int
	// SubscriberTimeout is how long a subscriber may go without
	// draining its queue before being disconnected.
	SubscriberTimeout time.Duration
}

func (c DirectConfig) withDefaults() DirectConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.SubscriberTimeout <= 0 {
		c.SubscriberTimeout = 30 * time.Second
	}
	return c
}

// DirectPublisher is the in-process pub/sub variant: the GCS publishes
// directly to a subscriber set it maintains, with no intermediate KV
// round trip (spec.md §4.2).
type DirectPublisher struct {
	conf DirectConfig

	mu   sync.Mutex
	subs map[Channel]map[*directSubscription]struct{}
}

// NewDirectPublisher constructs a direct in-process Publisher.
func NewDirectPublisher(conf DirectConfig) *DirectPublisher {
	return &DirectPublisher{
		conf: conf.withDefaults(),
		subs: make(map[Channel]map[*directSubscription]struct{}),
	}
}

type directSubscription struct {
	pub     *DirectPublisher
	channel Channel
	msgs    chan Message

	mu     sync.Mutex
	closed bool
	timer  *time.Timer
}

func (s *directSubscription) Messages() <-chan Message { return s.msgs }

func (s *directSubscription) Close() {
	s.pub.remove(s)
	s.markClosed()
}

func (s *directSubscription) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	close(s.msgs)
}

// Subscribe registers a new subscriber for channel.
func (p *DirectPublisher) Subscribe(channel Channel) (Subscription, error) {
	sub := &directSubscription{pub: p, channel: channel, msgs: make(chan Message, p.conf.BatchSize)}

	p.mu.Lock()
	set, ok := p.subs[channel]
	if !ok {
		set = make(map[*directSubscription]struct{})
		p.subs[channel] = set
	}
	set[sub] = struct{}{}
	p.mu.Unlock()

	return sub, nil
}

func (p *DirectPublisher) remove(sub *directSubscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if set, ok := p.subs[sub.channel]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(p.subs, sub.channel)
		}
	}
}

// Publish delivers payload to every current subscriber of channel, in
// publication order per subscriber. A subscriber whose queue is full
// for longer than SubscriberTimeout is disconnected; its Messages
// channel is closed, and it must re-subscribe and refetch authoritative
// state via GetAll (spec.md §4.2, §8).
func (p *DirectPublisher) Publish(_ context.Context, channel Channel, payload []byte) error {
	p.mu.Lock()
	set := p.subs[channel]
	recipients := make([]*directSubscription, 0, len(set))
	for sub := range set {
		recipients = append(recipients, sub)
	}
	p.mu.Unlock()

	msg := Message{Channel: channel, Payload: payload}
	for _, sub := range recipients {
		p.deliver(sub, msg)
	}
	return nil
}

func (p *DirectPublisher) deliver(sub *directSubscription, msg Message) {
	select {
	case sub.msgs <- msg:
		return
	default:
	}

	// Queue is full: give the subscriber SubscriberTimeout to drain
	// before disconnecting it.
	timer := time.NewTimer(p.conf.SubscriberTimeout)
	defer timer.Stop()
	select {
	case sub.msgs <- msg:
	case <-timer.C:
		log.WithField("channel", string(msg.Channel)).
			Warn("subscriber did not drain within timeout, disconnecting")
		p.remove(sub)
		sub.markClosed()
	}
}

// Close disconnects every subscriber across every channel.
func (p *DirectPublisher) Close() {
	p.mu.Lock()
	all := p.subs
	p.subs = make(map[Channel]map[*directSubscription]struct{})
	p.mu.Unlock()

	for _, set := range all {
		for sub := range set {
			sub.markClosed()
		}
	}
}
