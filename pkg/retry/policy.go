// Package retry implements the bounded backoff schedule used by the
// attestation poller and any other component that must retry within a
// single call rather than waiting for the orchestrator's next tick.
package retry

import (
	"strings"
	"time"
)

// Schedule is the bounded exponential-ish backoff used by
// AttestationClient.fetchVaa per spec: 30s, 60s, 2m, 5m, 10m, 30m, then
// capped at the final step.
var Schedule = []time.Duration{
	30 * time.Second,
	60 * time.Second,
	2 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
	30 * time.Minute,
}

// MaxAttempts bounds the number of retries performed within a single
// call; callers needing more retry budget re-invoke across orchestrator
// ticks rather than loop indefinitely here.
const MaxAttempts = 10

// Delay returns the backoff delay before attempt number n (0-indexed).
// Once n exceeds the schedule length the last entry is repeated.
func Delay(n int) time.Duration {
	if n < 0 {
		return Schedule[0]
	}
	if n >= len(Schedule) {
		return Schedule[len(Schedule)-1]
	}
	return Schedule[n]
}

// RetryableSubstrings lists error-message fragments that indicate a
// transient condition worth retrying rather than failing the call
// outright, mirroring the teacher's gas-price-escalation retry loop.
var RetryableSubstrings = []string{
	"replacement transaction underpriced",
	"nonce too low",
	"already known",
	"connection refused",
	"timeout",
	"i/o timeout",
	"EOF",
}

// IsRetryable reports whether err's message contains one of the known
// transient substrings.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range RetryableSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
