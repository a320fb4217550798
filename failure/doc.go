// Package failure records, persists and reports terminal operation failures.
//
// A Handler turns an error into an immutable Record classified by Severity and
// Category, keeps it in an in-memory history, appends it to a per-day JSON
// file and, for High and Critical records, hands it to an alert callback.
//
// Execute and ExecuteWithErrorHandling run an operation through the Retry
// registered for its category and record the failure only once every retry
// is exhausted. The error the caller receives is the operation's own error,
// unchanged.
//
// # Ownership
//
// Records are immutable once created. Persisted day files are written only by
// this package; ExportReport flushes the in-memory history but never touches
// the day files.
//
// # Process default
//
// Default returns a lazily created process-wide Handler. Long-lived programs
// should build their own Handler and install it with SetDefault; tests call
// ResetDefault for isolation.
package failure
