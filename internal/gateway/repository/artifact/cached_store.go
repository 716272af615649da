package artifact

import (
	"context"
	"crypto/sha256"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type CacheConfig struct {
	// TTL bounds how long a presigned URL or an upload digest is trusted.
	// Keep it below the presign expiry.
	TTL        time.Duration
	MaxEntries int
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 30 * time.Minute, MaxEntries: 1024}
}

type MetricsSnapshot struct {
	PutSkips     uint64
	URLHits      uint64
	URLMisses    uint64
	ListHits     uint64
	ListMisses   uint64
	OriginWrites uint64
}

// CachedStore sits in front of object storage. Re-publishing an archive
// whose bytes were already uploaded is skipped, and presigned URLs and
// listings are reused until they expire.
type CachedStore struct {
	origin Store

	digests *expirable.LRU[string, [sha256.Size]byte]
	urls    *expirable.LRU[string, string]
	lists   *expirable.LRU[string, []string]

	putSkips     atomic.Uint64
	urlHits      atomic.Uint64
	urlMisses    atomic.Uint64
	listHits     atomic.Uint64
	listMisses   atomic.Uint64
	originWrites atomic.Uint64
}

func NewCachedStore(origin Store, cfg CacheConfig) *CachedStore {
	def := DefaultCacheConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	return &CachedStore{
		origin:  origin,
		digests: expirable.NewLRU[string, [sha256.Size]byte](cfg.MaxEntries, nil, cfg.TTL),
		urls:    expirable.NewLRU[string, string](cfg.MaxEntries, nil, cfg.TTL),
		lists:   expirable.NewLRU[string, []string](cfg.MaxEntries, nil, cfg.TTL),
	}
}

func (s *CachedStore) Put(ctx context.Context, project, name string, content []byte) error {
	key := objectKey(project, name)
	sum := sha256.Sum256(content)
	if prev, ok := s.digests.Get(key); ok && prev == sum {
		s.putSkips.Add(1)
		return nil
	}
	s.originWrites.Add(1)
	if err := s.origin.Put(ctx, project, name, content); err != nil {
		s.digests.Remove(key)
		return err
	}
	s.digests.Add(key, sum)
	s.urls.Remove(key)
	s.lists.Remove(strings.TrimSpace(project))
	return nil
}

func (s *CachedStore) Get(ctx context.Context, project, name string) ([]byte, error) {
	return s.origin.Get(ctx, project, name)
}

func (s *CachedStore) GetURL(ctx context.Context, project, name string) (string, error) {
	key := objectKey(project, name)
	if url, ok := s.urls.Get(key); ok {
		s.urlHits.Add(1)
		return url, nil
	}
	s.urlMisses.Add(1)
	url, err := s.origin.GetURL(ctx, project, name)
	if err != nil {
		return "", err
	}
	if url != "" {
		s.urls.Add(key, url)
	}
	return url, nil
}

func (s *CachedStore) List(ctx context.Context, project string) ([]string, error) {
	project = strings.TrimSpace(project)
	if names, ok := s.lists.Get(project); ok {
		s.listHits.Add(1)
		return append([]string(nil), names...), nil
	}
	s.listMisses.Add(1)
	names, err := s.origin.List(ctx, project)
	if err != nil {
		return nil, err
	}
	s.lists.Add(project, append([]string(nil), names...))
	return names, nil
}

func (s *CachedStore) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		PutSkips:     s.putSkips.Load(),
		URLHits:      s.urlHits.Load(),
		URLMisses:    s.urlMisses.Load(),
		ListHits:     s.listHits.Load(),
		ListMisses:   s.listMisses.Load(),
		OriginWrites: s.originWrites.Load(),
	}
}
