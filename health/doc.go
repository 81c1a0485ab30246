// Package health reports whether the cache service can do its job.
//
// A [Checker] reports a [Status]: healthy, degraded or unhealthy.
// [CacheChecker] watches how full a cache's budgets are, [StorageChecker]
// round-trips a probe record through the durable storage and
// [MemoryChecker] watches the Go heap. An [Aggregator] runs checkers in
// parallel under one timeout and folds their results into the worst status.
//
//	agg := health.NewAggregator(health.AggregatorConfig{})
//	agg.Register(
//		health.NewCacheChecker("cache", store, health.Thresholds{}),
//		health.NewStorageChecker("storage", storage, "boltcache"),
//	)
//
//	router := mux.NewRouter()
//	health.RegisterHandlers(router, agg)
//
// The handlers serve /healthz (liveness), /readyz (readiness), /health
// (JSON detail for every check) and /health/{name}. Degraded checks still
// answer 200.
package health
