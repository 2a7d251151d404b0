package subflow

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/cschleiden/go-dslflow/internal/metrickeys"
	"github.com/cschleiden/go-dslflow/metrics"
)

type cachingResolver struct {
	next  Resolver
	mc    metrics.Client
	c     *ttlcache.Cache[string, *Definition]
	group singleflight.Group
}

// NewCachingResolver caches resolved definitions in an LRU with the given capacity and
// expiration. Concurrent lookups of the same reference share a single resolution.
func NewCachingResolver(next Resolver, mc metrics.Client, size int, expiration time.Duration) *cachingResolver {
	c := ttlcache.New(
		ttlcache.WithCapacity[string, *Definition](uint64(size)),
		ttlcache.WithTTL[string, *Definition](expiration),
	)

	c.OnEviction(func(ctx context.Context, er ttlcache.EvictionReason, i *ttlcache.Item[string, *Definition]) {
		reason := ""
		switch er {
		case ttlcache.EvictionReasonExpired:
			reason = "expired"
		case ttlcache.EvictionReasonCapacityReached:
			reason = "capacity"
		case ttlcache.EvictionReasonDeleted:
			reason = "deleted"
		}

		mc.Counter(metrickeys.SubflowCacheEviction, metrics.Tags{metrickeys.EvictionReason: reason}, 1)
	})

	return &cachingResolver{
		next: next,
		mc:   mc,
		c:    c,
	}
}

func (cr *cachingResolver) Resolve(ctx context.Context, ref string) (*Definition, error) {
	if item := cr.c.Get(ref); item != nil {
		return item.Value(), nil
	}

	v, err, _ := cr.group.Do(ref, func() (any, error) {
		d, err := cr.next.Resolve(ctx, ref)
		if err != nil {
			return nil, err
		}

		cr.c.Set(ref, d, ttlcache.DefaultTTL)
		cr.mc.Gauge(metrickeys.SubflowCacheSize, metrics.Tags{}, int64(cr.c.Len()))

		return d, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*Definition), nil
}

// Invalidate drops a cached definition.
func (cr *cachingResolver) Invalidate(ref string) {
	cr.c.Delete(ref)

	cr.mc.Gauge(metrickeys.SubflowCacheSize, metrics.Tags{}, int64(cr.c.Len()))
}

// StartEviction removes expired entries in the background until ctx is done.
func (cr *cachingResolver) StartEviction(ctx context.Context) {
	go cr.c.Start()

	<-ctx.Done()

	cr.c.Stop()
}
