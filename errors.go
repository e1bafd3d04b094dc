package main

import (
	"errors"
	"fmt"
)

// ErrDeviceNotConnected is returned when the transport reports a device
// offline. No quota is consumed on this path.
var ErrDeviceNotConnected = errors.New("device not connected")

// QuotaExceededError signals that a user's aggregate daily send count has
// reached their limit.
type QuotaExceededError struct {
	Limit int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily message limit of %d reached", e.Limit)
}

// TooManyRecipientsError rejects a broadcast exceeding the per-broadcast cap.
type TooManyRecipientsError struct {
	Count int
	Max   int
}

func (e *TooManyRecipientsError) Error() string {
	return fmt.Sprintf("broadcast of %d recipients exceeds the maximum of %d", e.Count, e.Max)
}

// InsufficientQuotaError rejects a broadcast larger than the user's
// remaining daily quota.
type InsufficientQuotaError struct {
	Requested int
	Remaining int
}

func (e *InsufficientQuotaError) Error() string {
	return fmt.Sprintf("broadcast of %d recipients exceeds the remaining daily quota of %d", e.Requested, e.Remaining)
}

// TransportError wraps a failure reported by the messaging transport.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// ProviderError wraps a failure of the AI provider: non-2xx responses and
// empty completions alike.
type ProviderError struct {
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error: %s", e.Message)
}
