package gateway

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds. Filter and rate-limit rejections are expected control-flow
// outcomes; they come back as typed errors, never panics or silent drops.
const (
	KindProviderUnavailable = "PROVIDER_UNAVAILABLE"
	KindRateLimited         = "RATE_LIMITED"
	KindAuthFailed          = "AUTH_FAILED"
	KindRejected            = "REJECTED"
	KindInference           = "INFERENCE_ERROR"
	KindSession             = "SESSION_ERROR"
)

type Error struct {
	Kind       string
	Reason     string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a gateway error of the given kind.
func IsKind(err error, kind string) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == kind
}
