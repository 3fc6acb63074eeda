package server

import (
	"time"

	"github.com/docker/libkv/store"
	"github.com/docker/libkv/store/zookeeper"
)

// pubSubStore is the store.Store interface the store-backed pub/sub
// variant rides. Aliased locally so callers of newPubSubStore don't
// need to import docker/libkv themselves.
type pubSubStore = store.Store

// openZKStore opens the same libkv/zookeeper client the teacher's
// leader election already depends on (common/leader.NewCandidate),
// reused here so the store-backed pub/sub variant shares the
// connection family rather than inventing a second KV client.
func openZKStore(zkServers []string) (pubSubStore, error) {
	return zookeeper.New(zkServers, &store.Config{ConnectionTimeout: 5 * time.Second})
}
