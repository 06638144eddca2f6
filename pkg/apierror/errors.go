// Package apierror defines the domain errors returned by DittoVault
// components to their callers.
//
// These are business logic errors (caller not allowed, record missing, record
// duplicated, shard provisioning failed) as opposed to infrastructure errors
// (disk failure, network failure), which are wrapped with fmt.Errorf and
// returned as-is.
package apierror

import (
	"errors"
	"fmt"
)

// Well-known messages carried by NotFound and AlreadyExists errors.
const (
	MsgUserNotFound          = "USER_NOT_FOUND"
	MsgUserExists            = "USER_EXISTS"
	MsgAssetNotFound         = "ASSET_NOT_FOUND"
	MsgChunksNotFound        = "CHUNKS_NOT_FOUND"
	MsgProvisioningInFlight  = "PROVISIONING_IN_PROGRESS"
	MsgAnonymousCaller       = "ANONYMOUS_CALLER"
	MsgCallerNotTrusted      = "CALLER_NOT_TRUSTED"
	MsgCallerNotShardOwner   = "CALLER_NOT_SHARD_OWNER"
	MsgInstallPayloadMissing = "INSTALL_PAYLOAD_MISSING"
)

// Code is the category of a domain error.
type Code int

const (
	// Unauthorized: the caller is anonymous, not trusted, or not the owner.
	Unauthorized Code = iota

	// NotFound: the referenced record does not exist for this owner.
	NotFound

	// AlreadyExists: the record being created already exists.
	AlreadyExists

	// ProvisioningFailed: the hosting platform rejected shard provisioning.
	ProvisioningFailed

	// InvalidArgument: the request is malformed.
	InvalidArgument
)

func (c Code) String() string {
	switch c {
	case Unauthorized:
		return "Unauthorized"
	case NotFound:
		return "NotFound"
	case AlreadyExists:
		return "AlreadyExists"
	case ProvisioningFailed:
		return "ProvisioningFailed"
	case InvalidArgument:
		return "InvalidArgument"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Provisioning carries the platform's failure details for a
// ProvisioningFailed error.
type Provisioning struct {
	// Phase is "allocate" or "install".
	Phase string

	// PlatformCode is the numeric rejection code reported by the platform.
	PlatformCode int

	// PlatformMessage is the platform's free-form explanation.
	PlatformMessage string
}

// Error is a domain error.
type Error struct {
	Code    Code
	Message string

	// Provisioning is set only when Code == ProvisioningFailed.
	Provisioning *Provisioning
}

func (e *Error) Error() string {
	if e.Provisioning != nil {
		return fmt.Sprintf("%s: %s phase failed with platform code %d: %s",
			e.Code, e.Provisioning.Phase, e.Provisioning.PlatformCode, e.Provisioning.PlatformMessage)
	}
	if e.Message == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Message
}

// Is matches any *Error with the same Code, so errors.Is(err, &Error{Code: NotFound})
// works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func NewUnauthorized(message string) *Error {
	return &Error{Code: Unauthorized, Message: message}
}

func NewNotFound(message string) *Error {
	return &Error{Code: NotFound, Message: message}
}

func NewAlreadyExists(message string) *Error {
	return &Error{Code: AlreadyExists, Message: message}
}

func NewInvalidArgument(format string, args ...any) *Error {
	return &Error{Code: InvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// NewProvisioningFailed builds a ProvisioningFailed error for the given phase.
func NewProvisioningFailed(phase string, platformCode int, platformMessage string) *Error {
	return &Error{
		Code:    ProvisioningFailed,
		Message: platformMessage,
		Provisioning: &Provisioning{
			Phase:           phase,
			PlatformCode:    platformCode,
			PlatformMessage: platformMessage,
		},
	}
}

// CodeOf extracts the Code of a domain error anywhere in err's chain.
func CodeOf(err error) (Code, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	return 0, false
}

// IsCode reports whether err is a domain error with the given code.
func IsCode(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
