package dal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/averko/marketpulse/internal/platform/config"
	"github.com/averko/marketpulse/internal/platform/observability"
	"github.com/averko/marketpulse/internal/platform/resilience"
	"github.com/averko/marketpulse/internal/platform/worker"
	"github.com/averko/marketpulse/internal/store"
)

// Result is the outcome of a read.
type Result struct {
	Value        []byte
	Source       Source
	Cached       bool // served from a cache tier rather than the backing store
	Degraded     bool // expired data served because the backing store was down
	ResponseTime time.Duration
}

// Stats is a point-in-time snapshot of orchestrator counters.
type Stats struct {
	Hits            int64
	Misses          int64
	DegradedReads   int64
	EvictionCount   int64
	HitRate         float64
	MissRate        float64
	AvgResponseTime time.Duration
}

// namespacePolicy pairs a namespace's cache policy with its L1 tier.
type namespacePolicy struct {
	cfg config.NamespaceConfig
	l1  *L1Cache
}

// Orchestrator implements the cache-aside read and write paths across L1,
// L2 and the backing store. Reads promote values up the tiers; stale values
// are served immediately while a background refresh runs; expired values are
// served, flagged degraded, when the backing store is unreachable.
type Orchestrator struct {
	policies map[string]*namespacePolicy
	l2       Tier
	store    store.Store
	retrier  *resilience.Executor
	coord    ExclusiveKeyLock

	refreshPool    *worker.Pool
	refreshTimeout time.Duration
	inflight       sync.Map // full key -> struct{}, refreshes already queued
	loads          singleflight.Group
	fetchSem       *semaphore.Weighted

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer

	hits         atomic.Int64
	misses       atomic.Int64
	degraded     atomic.Int64
	getCount     atomic.Int64
	getTotalNano atomic.Int64

	closed  atomic.Bool
	stopCh  chan struct{}
	sweepWG sync.WaitGroup
}

// OrchestratorConfig holds orchestrator dependencies and tuning.
type OrchestratorConfig struct {
	Namespaces  []config.NamespaceConfig
	Cache       config.CacheConfig
	Store       store.Store
	L2          Tier
	Retrier     *resilience.Executor
	Coordinator ExclusiveKeyLock
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	Tracer      trace.Tracer
}

// NewOrchestrator wires the tiers together and starts the L1 sweeper and
// the background refresh pool.
func NewOrchestrator(ctx context.Context, cfg OrchestratorConfig) (*Orchestrator, error) {
	if len(cfg.Namespaces) == 0 {
		return nil, fmt.Errorf("orchestrator: at least one namespace is required")
	}
	if cfg.Store == nil || cfg.L2 == nil || cfg.Retrier == nil {
		return nil, fmt.Errorf("orchestrator: store, l2 tier and retrier are required")
	}
	if cfg.Coordinator == nil {
		cfg.Coordinator = NewKeyedCoordinator(nil)
	}

	policies := make(map[string]*namespacePolicy, len(cfg.Namespaces))
	for _, ns := range cfg.Namespaces {
		policies[ns.Name] = &namespacePolicy{
			cfg: ns,
			l1:  NewL1Cache(ns.MaxL1Entries, cfg.Cache.ExpiredRetention),
		}
	}

	maxFetches := cfg.Cache.MaxConcurrentFetches
	if maxFetches < 1 {
		maxFetches = 1
	}
	refreshTimeout := cfg.Cache.RefreshTimeout
	if refreshTimeout <= 0 {
		refreshTimeout = 10 * time.Second
	}

	o := &Orchestrator{
		policies:       policies,
		l2:             cfg.L2,
		store:          cfg.Store,
		retrier:        cfg.Retrier,
		coord:          cfg.Coordinator,
		refreshPool:    worker.NewPool(ctx, cfg.Cache.RefreshWorkers, cfg.Cache.RefreshQueueSize, cfg.Logger),
		refreshTimeout: refreshTimeout,
		fetchSem:       semaphore.NewWeighted(maxFetches),
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		tracer:         cfg.Tracer,
		stopCh:         make(chan struct{}),
	}

	if cfg.Cache.L1SweepInterval > 0 {
		o.sweepWG.Add(1)
		go o.sweepLoop(cfg.Cache.L1SweepInterval)
	}

	return o, nil
}

// Get reads a key, trying L1, then L2, then the backing store. Stale values
// are returned immediately with a background refresh queued. When the
// backing store is unreachable, an expired cached value is served with
// Degraded set.
func (o *Orchestrator) Get(ctx context.Context, namespace, key string) (Result, error) {
	if o.closed.Load() {
		return Result{}, ErrClosed
	}
	pol, ok := o.policies[namespace]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownNamespace, namespace)
	}

	start := time.Now()
	fullKey := namespace + ":" + key

	var span trace.Span
	if o.tracer != nil {
		ctx, span = observability.StartSpanWithAttributes(ctx, o.tracer, "dal.get",
			map[string]string{"namespace": namespace, "key": key})
	}

	res, err := o.get(ctx, pol, fullKey)
	if span != nil {
		span.SetAttributes(
			attribute.String("source", res.Source.String()),
			attribute.Bool("degraded", res.Degraded),
		)
		observability.EndSpanWithError(span, err)
	}
	elapsed := time.Since(start)
	res.ResponseTime = elapsed

	o.getCount.Add(1)
	o.getTotalNano.Add(int64(elapsed))
	if err == nil {
		if res.Cached {
			o.hits.Add(1)
		} else {
			o.misses.Add(1)
		}
		if o.metrics != nil {
			o.metrics.RecordGetDuration(ctx, float64(elapsed.Milliseconds()), namespace, res.Source.String())
		}
	} else {
		o.misses.Add(1)
		if o.metrics != nil {
			o.metrics.RecordError(ctx, "orchestrator", errorKind(err))
		}
	}
	return res, err
}

func (o *Orchestrator) get(ctx context.Context, pol *namespacePolicy, fullKey string) (Result, error) {
	now := time.Now()

	if entry, ok := pol.l1.Get(fullKey, now); ok {
		if o.metrics != nil {
			o.metrics.RecordCacheHit(ctx, "l1", pol.cfg.Name)
		}
		if entry.Stale(now) {
			o.scheduleRefresh(pol.cfg.Name, fullKey)
		}
		return Result{Value: entry.Value, Source: SourceL1, Cached: true}, nil
	}
	if o.metrics != nil {
		o.metrics.RecordCacheMiss(ctx, "l1", pol.cfg.Name)
	}

	entry, err := o.load(ctx, pol, fullKey, loadNormal)
	if err == nil {
		cached := entry.loadedFromL2
		src := SourceBackingStore
		if cached {
			src = SourceL2
		}
		if entry.entry.Stale(time.Now()) {
			o.scheduleRefresh(pol.cfg.Name, fullKey)
		}
		return Result{Value: entry.entry.Value, Source: src, Cached: cached}, nil
	}

	if errors.Is(err, ErrNotFound) || errors.Is(err, store.ErrNotFound) {
		return Result{}, fmt.Errorf("%w: %s", ErrNotFound, fullKey)
	}
	if ctx.Err() != nil {
		return Result{}, err
	}

	// Backing store unreachable. Fall back to anything still resident,
	// expired included.
	if stale, ok := pol.l1.GetStale(fullKey, now); ok {
		o.recordDegraded(ctx, pol.cfg.Name, fullKey, err)
		return Result{Value: stale.Value, Source: SourceL1, Cached: true, Degraded: true}, nil
	}
	if l2Entry, l2Err := o.l2.Get(ctx, fullKey); l2Err == nil {
		o.recordDegraded(ctx, pol.cfg.Name, fullKey, err)
		return Result{Value: l2Entry.Value, Source: SourceL2, Cached: true, Degraded: true}, nil
	}

	return Result{}, fmt.Errorf("%w: %s: %w", ErrBackingStoreUnavailable, fullKey, err)
}

// loadMode controls how much of L2 a load trusts. Normal loads serve any
// unexpired L2 entry; refreshes only accept fresh ones (another process may
// have revalidated already); forced loads skip L2 entirely.
type loadMode int

const (
	loadNormal loadMode = iota
	loadRefresh
	loadForce
)

func (m loadMode) String() string {
	switch m {
	case loadRefresh:
		return "refresh"
	case loadForce:
		return "force"
	default:
		return "normal"
	}
}

// loadResult distinguishes an L2 serve from a backing store fetch so the
// caller can label the source after the singleflight collapses callers.
type loadResult struct {
	entry        Entry
	loadedFromL2 bool
}

// load fetches the key from L2 and then the backing store, repopulating
// both cache tiers. Concurrent loads of the same key and mode collapse
// into one.
func (o *Orchestrator) load(ctx context.Context, pol *namespacePolicy, fullKey string, mode loadMode) (loadResult, error) {
	sfKey := mode.String() + "!" + fullKey

	v, err, _ := o.loads.Do(sfKey, func() (any, error) {
		now := time.Now()

		if mode != loadForce {
			l2Entry, err := o.l2.Get(ctx, fullKey)
			if err == nil {
				usable := l2Entry.Fresh(now)
				if mode == loadNormal && !l2Entry.Expired(now) {
					usable = true
				}
				if usable {
					if o.metrics != nil {
						o.metrics.RecordCacheHit(ctx, "l2", pol.cfg.Name)
					}
					pol.l1.Put(l2Entry)
					return loadResult{entry: l2Entry, loadedFromL2: true}, nil
				}
			}
			if err != nil && !errors.Is(err, ErrNotFound) {
				o.logger.LogWarn(ctx, "l2 read failed, falling through to backing store",
					"key", fullKey, "error", err.Error())
			}
			if o.metrics != nil {
				o.metrics.RecordCacheMiss(ctx, "l2", pol.cfg.Name)
			}
		}

		if err := o.fetchSem.Acquire(ctx, 1); err != nil {
			return loadResult{}, err
		}
		defer o.fetchSem.Release(1)

		value, err := resilience.Execute(o.retrier, ctx, "store_get", func(ctx context.Context) ([]byte, error) {
			return o.store.Get(ctx, fullKey)
		})
		if err != nil {
			return loadResult{}, err
		}

		entry := newEntry(fullKey, value, time.Now(), pol.cfg.L1TTL, pol.cfg.StaleWindow)
		o.populate(ctx, pol, entry, pol.cfg.L2TTL)
		return loadResult{entry: entry}, nil
	})
	if err != nil {
		return loadResult{}, err
	}
	return v.(loadResult), nil
}

// populate writes the entry to both cache tiers. An L2 failure is logged
// but not fatal: L1 still serves and the next miss repopulates L2.
func (o *Orchestrator) populate(ctx context.Context, pol *namespacePolicy, entry Entry, l2TTL time.Duration) {
	if err := o.l2.Put(ctx, entry, l2TTL); err != nil {
		o.logger.LogWarn(ctx, "l2 populate failed", "key", entry.Key, "error", err.Error())
	}
	pol.l1.Put(entry)
}

// scheduleRefresh queues a background revalidation for a stale key. At most
// one refresh per key is in flight; when the queue is full the refresh is
// dropped and the next stale read retries.
func (o *Orchestrator) scheduleRefresh(namespace, fullKey string) {
	if o.closed.Load() {
		return
	}
	if _, loaded := o.inflight.LoadOrStore(fullKey, struct{}{}); loaded {
		return
	}

	pol := o.policies[namespace]
	accepted := o.refreshPool.TrySubmit(worker.Task{
		Key: fullKey,
		Run: func(ctx context.Context) error {
			defer o.inflight.Delete(fullKey)

			refreshCtx, cancel := context.WithTimeout(ctx, o.refreshTimeout)
			defer cancel()

			_, err := o.load(refreshCtx, pol, fullKey, loadRefresh)
			if err != nil && !errors.Is(err, ErrNotFound) {
				if o.metrics != nil {
					o.metrics.RecordRefreshFailure(refreshCtx, namespace)
				}
				return fmt.Errorf("refresh %s: %w", fullKey, err)
			}
			return nil
		},
	})

	ctx := context.Background()
	if accepted {
		if o.metrics != nil {
			o.metrics.RecordRefreshScheduled(ctx, namespace)
			o.metrics.SetRefreshQueueLen(ctx, int64(o.refreshPool.QueueLen()))
		}
	} else {
		o.inflight.Delete(fullKey)
		if o.metrics != nil {
			o.metrics.RecordRefreshDropped(ctx, namespace)
		}
	}
}

// Put writes a key through to the backing store using the namespace's
// default TTL policy.
func (o *Orchestrator) Put(ctx context.Context, namespace, key string, value []byte) error {
	return o.PutTTL(ctx, namespace, key, value, 0)
}

// PutTTL writes a key through to the backing store. A positive ttl overrides
// the namespace's L1 TTL for the cached copy. Caches are only touched after
// the store write succeeds: write-through namespaces get the new value
// populated, the rest get the key invalidated.
func (o *Orchestrator) PutTTL(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	if o.closed.Load() {
		return ErrClosed
	}
	pol, ok := o.policies[namespace]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNamespace, namespace)
	}

	start := time.Now()
	fullKey := namespace + ":" + key

	if o.tracer != nil {
		var span trace.Span
		ctx, span = observability.StartSpanWithAttributes(ctx, o.tracer, "dal.put",
			map[string]string{"namespace": namespace, "key": key})
		defer span.End()
	}

	release, err := o.coord.Acquire(ctx, fullKey)
	if err != nil {
		return fmt.Errorf("acquire writer lock for %s: %w", fullKey, err)
	}
	defer release()

	err = o.retrier.Do(ctx, "store_put", func(ctx context.Context) error {
		return o.store.Put(ctx, fullKey, value)
	})
	if err != nil {
		// The store write failed, so cached copies still match the
		// store's last accepted value. Leave them alone.
		return fmt.Errorf("put %s: %w", fullKey, err)
	}

	entryTTL := pol.cfg.L1TTL
	if ttl > 0 {
		entryTTL = ttl
	}

	if pol.cfg.WriteThrough {
		// An overriding TTL can outlast the namespace L2 TTL; the L2 copy
		// must survive at least as long as the entry's logical lifetime.
		l2TTL := pol.cfg.L2TTL
		if entryTTL > l2TTL {
			l2TTL = entryTTL
		}
		entry := newEntry(fullKey, value, time.Now(), entryTTL, pol.cfg.StaleWindow)
		o.populate(ctx, pol, entry, l2TTL)
	} else {
		o.invalidate(ctx, pol, fullKey)
	}

	if o.metrics != nil {
		o.metrics.RecordPutDuration(ctx, float64(time.Since(start).Milliseconds()), namespace)
	}
	return nil
}

// Delete removes a key from the backing store and both cache tiers.
func (o *Orchestrator) Delete(ctx context.Context, namespace, key string) error {
	if o.closed.Load() {
		return ErrClosed
	}
	pol, ok := o.policies[namespace]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNamespace, namespace)
	}

	fullKey := namespace + ":" + key

	release, err := o.coord.Acquire(ctx, fullKey)
	if err != nil {
		return fmt.Errorf("acquire writer lock for %s: %w", fullKey, err)
	}
	defer release()

	err = o.retrier.Do(ctx, "store_delete", func(ctx context.Context) error {
		return o.store.Delete(ctx, fullKey)
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", fullKey, err)
	}

	o.invalidate(ctx, pol, fullKey)
	return nil
}

// Invalidate drops a key from both cache tiers without touching the store.
func (o *Orchestrator) Invalidate(ctx context.Context, namespace, key string) error {
	if o.closed.Load() {
		return ErrClosed
	}
	pol, ok := o.policies[namespace]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNamespace, namespace)
	}
	o.invalidate(ctx, pol, namespace+":"+key)
	return nil
}

// InvalidatePattern drops all keys matching the glob pattern from both cache
// tiers. The pattern is relative to the namespace, e.g. "prices/*".
func (o *Orchestrator) InvalidatePattern(ctx context.Context, namespace, pattern string) (int, error) {
	if o.closed.Load() {
		return 0, ErrClosed
	}
	pol, ok := o.policies[namespace]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownNamespace, namespace)
	}

	fullPattern := namespace + ":" + pattern
	removed := pol.l1.InvalidatePattern(fullPattern)

	deleted, err := o.l2.DeletePattern(ctx, fullPattern)
	if err != nil {
		return removed, fmt.Errorf("invalidate pattern %s: %w", fullPattern, err)
	}
	if deleted > removed {
		removed = deleted
	}
	return removed, nil
}

func (o *Orchestrator) invalidate(ctx context.Context, pol *namespacePolicy, fullKey string) {
	pol.l1.Invalidate(fullKey)
	if err := o.l2.Delete(ctx, fullKey); err != nil {
		o.logger.LogWarn(ctx, "l2 invalidate failed", "key", fullKey, "error", err.Error())
	}
}

// ForceRefresh bypasses both cache tiers, fetches the key from the backing
// store and repopulates the caches. Used by the warming scheduler.
func (o *Orchestrator) ForceRefresh(ctx context.Context, namespace, key string) error {
	if o.closed.Load() {
		return ErrClosed
	}
	pol, ok := o.policies[namespace]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNamespace, namespace)
	}

	_, err := o.load(ctx, pol, namespace+":"+key, loadForce)
	return err
}

// Stats returns a snapshot of hit/miss counters across all namespaces.
func (o *Orchestrator) Stats() Stats {
	hits := o.hits.Load()
	misses := o.misses.Load()
	total := hits + misses

	var evictions int64
	for _, pol := range o.policies {
		evictions += pol.l1.Evictions()
	}

	s := Stats{
		Hits:          hits,
		Misses:        misses,
		DegradedReads: o.degraded.Load(),
		EvictionCount: evictions,
	}
	if total > 0 {
		s.HitRate = float64(hits) / float64(total)
		s.MissRate = float64(misses) / float64(total)
	}
	if count := o.getCount.Load(); count > 0 {
		s.AvgResponseTime = time.Duration(o.getTotalNano.Load() / count)
	}
	return s
}

// Close stops the sweeper and the refresh pool. In-flight refreshes finish;
// subsequent reads and writes fail with ErrClosed.
func (o *Orchestrator) Close() error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(o.stopCh)
	o.sweepWG.Wait()
	o.refreshPool.Close()
	return nil
}

func (o *Orchestrator) recordDegraded(ctx context.Context, namespace, fullKey string, cause error) {
	o.degraded.Add(1)
	o.logger.LogWarn(ctx, "serving expired value, backing store unavailable",
		"key", fullKey, "error", cause.Error())
	if o.metrics != nil {
		o.metrics.RecordDegradedRead(ctx, namespace)
	}
}

func (o *Orchestrator) sweepLoop(interval time.Duration) {
	defer o.sweepWG.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			ctx := context.Background()
			for name, pol := range o.policies {
				if removed := pol.l1.Sweep(now); removed > 0 && o.metrics != nil {
					o.metrics.AddEvictions(ctx, int64(removed), name)
				}
			}
		}
	}
}
