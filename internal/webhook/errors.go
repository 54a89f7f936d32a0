package webhook

import "errors"

// Sentinel errors for webhook operations.
var (
	ErrEndpointNotFound = errors.New("webhook endpoint not found")
	ErrDeliveryNotFound = errors.New("webhook delivery not found")
	// ErrDeliveryNotRetryable is returned when a manual retry targets a
	// delivery that has not exhausted its attempts.
	ErrDeliveryNotRetryable = errors.New("webhook delivery is not exhausted")
)
