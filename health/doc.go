// Package health reports whether the guarded call paths are usable.
//
// A Checker reports a Result whose Status is Healthy, Degraded or Unhealthy.
// BreakerChecker reports on a resilience.BreakerRegistry: any open or
// half-open breaker degrades health, and a registry whose breakers are all
// open is unhealthy. CacheChecker reports on an AsyncCache's stats against
// hit-ratio and disk-size thresholds.
//
// An Aggregator runs several checkers under one timeout and folds their
// results into a Report:
//
//	agg := health.NewAggregator()
//	agg.Register("breakers", health.NewBreakerChecker(registry))
//	agg.Register("cache.github", health.NewCacheChecker(githubCache, health.CacheCheckerConfig{}))
//
//	report := agg.Report(ctx)
//	if report.Status == health.StatusUnhealthy {
//	    logger.Error(ctx, "guarded services unavailable")
//	}
package health
