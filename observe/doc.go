// Package observe provides observability primitives for guarded calls.
//
// It is a pure instrumentation library: a JSON structured Logger, OpenTelemetry
// instruments for the cache, resilience and failure packages, span helpers and
// a Timed wrapper that measures arbitrary operations. Consumers receive these
// through an Observer built once at startup.
package observe
