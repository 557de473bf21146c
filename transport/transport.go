// Package transport holds the clients for the external delivery
// vendors. Each client reports an Outcome instead of an error so the
// delivery worker can distinguish retry-worthy failures from permanent
// ones: 4xx other than 408/429 is permanent, 5xx/408/429 and network
// timeouts are transient.
package transport

import (
	"fmt"
	"net/http"
)

// Outcome is the result of one transport call.
type Outcome struct {
	// OK is true when the vendor accepted the message.
	OK bool

	// Retryable is meaningful only when OK is false: true means the
	// failure may self-correct and the attempt should be retried.
	Retryable bool

	// StatusCode is the HTTP status, 0 on a network-level failure.
	StatusCode int

	// Err describes the failure.
	Err string
}

// Success is the OK outcome.
func Success(statusCode int) Outcome {
	return Outcome{OK: true, StatusCode: statusCode}
}

// NetworkFailure classifies a transport-level error (connect failure,
// timeout) as a transient failure.
func NetworkFailure(err error) Outcome {
	return Outcome{Retryable: true, Err: err.Error()}
}

// ClassifyStatus maps an HTTP response onto an Outcome given the
// vendor's documented success code.
func ClassifyStatus(statusCode, wantCode int) Outcome {
	if statusCode == wantCode {
		return Success(statusCode)
	}

	retryable := statusCode >= 500 ||
		statusCode == http.StatusRequestTimeout ||
		statusCode == http.StatusTooManyRequests
	return Outcome{
		Retryable:  retryable,
		StatusCode: statusCode,
		Err:        fmt.Sprintf("unexpected status %d (want %d)", statusCode, wantCode),
	}
}
