package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/mineclover/iframe-remote/logging"
)

const DefaultPrefix = "/iframe-remote"

// EtcdRegistry implements Registry using etcd v3. Channel peers are stored
// the way service instances would be:
//
//	Key:   {prefix}/{channel}/{peerID}
//	Value: JSON-encoded PeerInstance
//
// Registration uses TTL-based leases: if a side crashes, the lease expires and
// the entry is removed, so an embedded side never locates a dead host.
type EtcdRegistry struct {
	client  *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)
	prefix  string
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // key -> lease, revoked on Deregister
}

type EtcdOption func(*EtcdRegistry)

func WithPrefix(prefix string) EtcdOption {
	return func(r *EtcdRegistry) { r.prefix = prefix }
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, opts ...EtcdOption) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return NewEtcdRegistryFromClient(c, opts...), nil
}

// NewEtcdRegistryFromClient shares an existing client, e.g. with a transport.EtcdMailbox.
func NewEtcdRegistryFromClient(c *clientv3.Client, opts ...EtcdOption) *EtcdRegistry {
	r := &EtcdRegistry{
		client:  c,
		prefix:  DefaultPrefix,
		timeout: 3 * time.Second,
		logger:  logging.For("registry"),
		leases:  make(map[string]clientv3.LeaseID),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Client exposes the underlying etcd client.
func (r *EtcdRegistry) Client() *clientv3.Client {
	return r.client
}

func (r *EtcdRegistry) key(channel, id string) string {
	return r.prefix + "/" + channel + "/" + id
}

// Register adds an instance with a TTL lease and keeps it alive in the background.
//
// Note: the lease belongs to the key, not the registry, so one EtcdRegistry
// can advertise several peers.
func (r *EtcdRegistry) Register(channel string, instance PeerInstance, ttl int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	key := r.key(channel, instance.ID)
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	// KeepAlive outlives this call, so it gets a background context
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range ch {
		}
		r.logger.Debug().Str("key", key).Msg("keepalive ended")
	}()

	r.mu.Lock()
	r.leases[key] = lease.ID
	r.mu.Unlock()
	return nil
}

// Deregister removes an instance and revokes its lease, which also stops the keepalive.
func (r *EtcdRegistry) Deregister(channel string, id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	key := r.key(channel, id)
	if _, err := r.client.Delete(ctx, key); err != nil {
		return err
	}

	r.mu.Lock()
	lease, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()
	if ok {
		if _, err := r.client.Revoke(ctx, lease); err != nil {
			r.logger.Warn().Err(err).Str("key", key).Msg("revoke failed")
		}
	}
	return nil
}

// Watch emits the instance list whenever the channel prefix changes.
func (r *EtcdRegistry) Watch(channel string) <-chan []PeerInstance {
	ch := make(chan []PeerInstance, 1)
	prefix := r.prefix + "/" + channel + "/"

	go func() {
		defer close(ch)
		for range r.client.Watch(context.Background(), prefix, clientv3.WithPrefix()) {
			// Re-fetch the full list rather than apply individual events
			instances, err := r.Discover(channel)
			if err != nil {
				continue
			}
			ch <- instances
		}
	}()

	return ch
}

// Discover returns all instances currently registered under the channel.
func (r *EtcdRegistry) Discover(channel string) ([]PeerInstance, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	resp, err := r.client.Get(ctx, r.prefix+"/"+channel+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]PeerInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance PeerInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // Skip malformed entries
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Close closes the etcd client.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
