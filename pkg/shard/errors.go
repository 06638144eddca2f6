package shard

import "fmt"

// Platform rejection codes reported by the host.
const (
	CodeInternal          = 1
	CodeRateLimited       = 2
	CodeCapacityExhausted = 3
	CodeInvalidGrant      = 4
	CodeUnitNotFound      = 5
	CodeAlreadyInstalled  = 6
	CodeInvalidPayload    = 7
	CodeBackendFailure    = 8
)

// PlatformError is a rejection by the hosting platform. Provisioning callers
// surface Code and Message to their own callers.
type PlatformError struct {
	Code    int
	Message string
	Err     error
}

func (e *PlatformError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("platform error %d: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("platform error %d: %s", e.Code, e.Message)
}

func (e *PlatformError) Unwrap() error {
	return e.Err
}

func platformError(code int, err error, format string, args ...any) *PlatformError {
	return &PlatformError{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}
