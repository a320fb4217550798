package failure

import "errors"

var (
	// ErrUnknownSeverity indicates a severity name that is not recognized.
	ErrUnknownSeverity = errors.New("failure: unknown severity")

	// ErrUnknownCategory indicates a category name that is not recognized.
	ErrUnknownCategory = errors.New("failure: unknown category")

	// ErrNilError is recorded in place of a nil error passed to HandleError.
	ErrNilError = errors.New("failure: nil error")

	// ErrMissingPath indicates an empty report path.
	ErrMissingPath = errors.New("failure: report path is required")
)

// Alert delivery errors.
var (
	// ErrWebhookNotConfigured indicates a WebhookAlerter without a URL.
	ErrWebhookNotConfigured = errors.New("failure: webhook URL not configured")

	// ErrWebhookStatus indicates the webhook answered with a non-2xx status.
	ErrWebhookStatus = errors.New("failure: webhook returned unexpected status")
)
