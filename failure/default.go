package failure

import "sync"

var (
	defaultMu      sync.Mutex
	defaultHandler *Handler
)

// Default returns the process-wide Handler, creating one with zero Options
// on first use.
func Default() *Handler {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultHandler == nil {
		defaultHandler = New(Options{})
	}
	return defaultHandler
}

// SetDefault installs h as the process-wide Handler.
func SetDefault(h *Handler) {
	defaultMu.Lock()
	defaultHandler = h
	defaultMu.Unlock()
}

// ResetDefault discards the process-wide Handler. The next Default call
// creates a fresh one.
func ResetDefault() {
	SetDefault(nil)
}
