package cache

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const keyPrefix = "fweather:"

// MemcachedStore keeps the cache slot in memcached under the two cache keys.
// Entries expire on the server after expiration, independently of the cache TTL check.
type MemcachedStore struct {
	client     *memcache.Client
	expiration time.Duration
}

// NewMemcachedStore creates a MemcachedStore. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedStore(addrs string, timeout time.Duration, maxIdleConns int, expiration time.Duration) *MemcachedStore {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedStore{client: client, expiration: expiration}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (s *MemcachedStore) key(k string) string {
	return keyPrefix + k
}

// Load returns ErrNoRecord when either key is missing.
func (s *MemcachedStore) Load(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	items, err := s.client.GetMulti([]string{s.key(KeySnapshot), s.key(KeyTimestamp)})
	if err != nil {
		return Record{}, err
	}
	snap, ok1 := items[s.key(KeySnapshot)]
	ts, ok2 := items[s.key(KeyTimestamp)]
	if !ok1 || !ok2 {
		return Record{}, ErrNoRecord
	}
	millis, err := strconv.ParseInt(string(ts.Value), 10, 64)
	if err != nil {
		return Record{}, ErrNoRecord
	}
	return Record{Serialized: string(snap.Value), TimestampMillis: millis}, nil
}

func (s *MemcachedStore) Save(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	exp := expirationSeconds(s.expiration)
	if err := s.client.Set(&memcache.Item{
		Key:        s.key(KeySnapshot),
		Value:      []byte(rec.Serialized),
		Expiration: exp,
	}); err != nil {
		return err
	}
	return s.client.Set(&memcache.Item{
		Key:        s.key(KeyTimestamp),
		Value:      []byte(strconv.FormatInt(rec.TimestampMillis, 10)),
		Expiration: exp,
	})
}

func (s *MemcachedStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, k := range []string{KeySnapshot, KeyTimestamp} {
		if err := s.client.Delete(s.key(k)); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
			return err
		}
	}
	return nil
}

// expirationSeconds converts the TTL to a relative memcached expiry. Zero means no
// expiry; memcached reads anything above 30 days as a unix timestamp.
func expirationSeconds(d time.Duration) int32 {
	const maxRelativeExp = 30 * 24 * time.Hour
	if d < time.Second || d > maxRelativeExp {
		return 0
	}
	return int32(d / time.Second)
}

// Ping checks if memcached is reachable. Used for health checks.
func (s *MemcachedStore) Ping(ctx context.Context) error {
	return s.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (s *MemcachedStore) Close() error {
	return s.client.Close()
}
