package registry

// etcd layout:
//
//	Key:   {prefix}/sessions/{jobID}
//	Value: JSON-encoded Session
//
// Every key is attached to a lease that outlives the session end by the
// retention period, so records of long-gone sandboxes disappear on their own.
// A job whose record was purged while it still runs is then reported as
// orphaned by the sweep and deregistered.

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const minLeaseTTL = 60 // seconds

// EtcdOptions configure the etcd-backed registry.
type EtcdOptions struct {
	Endpoints   []string
	DialTimeout time.Duration
	Prefix      string        // default "/tunnel-reaper"
	Retention   time.Duration // kept after SessionEndTime, default 24h
	Now         func() time.Time
}

// EtcdRegistry implements Store on etcd v3.
type EtcdRegistry struct {
	client    *clientv3.Client // thread-safe, shared across goroutines
	prefix    string
	retention time.Duration
	now       func() time.Time
}

// NewEtcdRegistry connects to the given endpoints.
func NewEtcdRegistry(opts EtcdOptions) (*EtcdRegistry, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   opts.Endpoints,
		DialTimeout: opts.DialTimeout,
	})
	if err != nil {
		return nil, err
	}
	return newEtcdRegistry(c, opts), nil
}

func newEtcdRegistry(c *clientv3.Client, opts EtcdOptions) *EtcdRegistry {
	if opts.Prefix == "" {
		opts.Prefix = "/tunnel-reaper"
	}
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &EtcdRegistry{
		client:    c,
		prefix:    strings.TrimSuffix(opts.Prefix, "/"),
		retention: opts.Retention,
		now:       opts.Now,
	}
}

// Close releases the etcd connection.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}

func (r *EtcdRegistry) sessionsPrefix() string {
	return r.prefix + "/sessions/"
}

func (r *EtcdRegistry) key(jobID string) string {
	return r.sessionsPrefix() + jobID
}

// leaseTTL keeps the record until retention has passed after the session end.
func (r *EtcdRegistry) leaseTTL(s Session) int64 {
	ttl := int64(s.SessionEndTime.Add(r.retention).Sub(r.now()).Seconds())
	if ttl < minLeaseTTL {
		ttl = minLeaseTTL
	}
	return ttl
}

// Save writes the session with a fresh lease.
func (r *EtcdRegistry) Save(ctx context.Context, s Session) error {
	val, err := json.Marshal(s)
	if err != nil {
		return err
	}

	lease, err := r.client.Grant(ctx, r.leaseTTL(s))
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}

	_, err = r.client.Put(ctx, r.key(s.JobID), string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return fmt.Errorf("put session %s: %w", s.JobID, err)
	}
	return nil
}

func (r *EtcdRegistry) FindByJobID(ctx context.Context, jobID string) (Session, error) {
	resp, err := r.client.Get(ctx, r.key(jobID))
	if err != nil {
		return Session{}, fmt.Errorf("get session %s: %w", jobID, err)
	}
	if len(resp.Kvs) == 0 {
		return Session{}, ErrSessionNotFound
	}

	var s Session
	if err := json.Unmarshal(resp.Kvs[0].Value, &s); err != nil {
		return Session{}, fmt.Errorf("decode session %s: %w", jobID, err)
	}
	return s, nil
}

// ExpireSession moves the end time to at with a compare-and-swap on the key's
// mod revision, retrying when a concurrent writer got there first.
func (r *EtcdRegistry) ExpireSession(ctx context.Context, jobID string, at time.Time) error {
	key := r.key(jobID)
	for {
		resp, err := r.client.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("get session %s: %w", jobID, err)
		}
		if len(resp.Kvs) == 0 {
			return nil
		}
		kv := resp.Kvs[0]

		var s Session
		if err := json.Unmarshal(kv.Value, &s); err != nil {
			return fmt.Errorf("decode session %s: %w", jobID, err)
		}
		if s.Expired(at) {
			return nil
		}
		s.SessionEndTime = at

		val, err := json.Marshal(s)
		if err != nil {
			return err
		}
		lease, err := r.client.Grant(ctx, r.leaseTTL(s))
		if err != nil {
			return fmt.Errorf("grant lease: %w", err)
		}

		txn, err := r.client.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(key), "=", kv.ModRevision)).
			Then(clientv3.OpPut(key, string(val), clientv3.WithLease(lease.ID))).
			Commit()
		if err != nil {
			return fmt.Errorf("expire session %s: %w", jobID, err)
		}
		if txn.Succeeded {
			return nil
		}
		// lost the race, the unused lease expires on its own
		_, _ = r.client.Revoke(ctx, lease.ID)
	}
}

func (r *EtcdRegistry) Delete(ctx context.Context, jobID string) error {
	_, err := r.client.Delete(ctx, r.key(jobID))
	if err != nil {
		return fmt.Errorf("delete session %s: %w", jobID, err)
	}
	return nil
}

// List returns every stored session. Malformed entries are skipped.
func (r *EtcdRegistry) List(ctx context.Context) ([]Session, error) {
	resp, err := r.client.Get(ctx, r.sessionsPrefix(), clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, err
	}

	sessions := make([]Session, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var s Session
		if err := json.Unmarshal(kv.Value, &s); err != nil {
			continue // Skip malformed entries
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}
