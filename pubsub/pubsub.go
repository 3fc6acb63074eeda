// Package pubsub implements the Pub/Sub Plane (spec.md §4.2): channels
// keyed by (entity-kind, entity-id), publishers posting immutable
// payloads, subscribers receiving them in per-channel publication
// order. Two implementations share this contract — a store-backed
// variant riding the KV store's native watch/notify primitives
// (storebacked.go, grounded on docker/libkv) and a direct in-process
// variant (direct.go) — selected at boot via the server config's
// store_backed_pubsub_enabled
// (spec.md §6, §9 "Pub/Sub duality").
package pubsub

import "context"

// Channel identifies a pub/sub topic: an (entity-kind, entity-id) pair
// rendered as a single string key, e.g. "actor:<hex id>".
type Channel string

// Message is an immutable payload published to a Channel.
type Message struct {
	Channel Channel
	Payload []byte
}

// Subscription delivers messages for one channel to one subscriber, in
// publication order. Callers must drain Messages promptly; a direct
// Publisher disconnects subscribers that fall behind (spec.md §4.2).
type Subscription interface {
	// Messages returns the channel of delivered messages. It is closed
	// when the subscription is closed or the subscriber is
	// disconnected for not draining in time.
	Messages() <-chan Message
	// Close unsubscribes and releases resources.
	Close()
}

// Publisher is the shared contract implemented by both the
// store-backed and direct pub/sub variants.
type Publisher interface {
	// Publish posts payload to channel. Delivery to existing
	// subscribers of that channel is ordered relative to other
	// Publish calls on the same channel; cross-channel order is not
	// guaranteed (spec.md §5).
	Publish(ctx context.Context, channel Channel, payload []byte) error
	// Subscribe begins receiving messages published to channel from
	// this point forward. Subscribers that need state published
	// before they subscribed must separately fetch it via GetAll —
	// pub/sub is a change notification, not a durable log (spec.md
	// §8 "Back-pressured subscriber").
	Subscribe(channel Channel) (Subscription, error)
	// Close shuts down the publisher and disconnects every
	// subscriber.
	Close()
}
