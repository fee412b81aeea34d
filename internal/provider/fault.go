package provider

import (
	"context"
	"errors"
	"fmt"
)

// FaultKind classifies a failed execution. Every failure maps to exactly one
// kind; none are absorbed or substituted with partial data.
type FaultKind string

const (
	FaultAuthentication       FaultKind = "authentication"
	FaultPermission           FaultKind = "permission"
	FaultServiceLimit         FaultKind = "service_limit"
	FaultUnsupportedOperation FaultKind = "unsupported_operation"
	FaultNoCredential         FaultKind = "no_credential"
	FaultProvider             FaultKind = "provider"
)

// Fault is a classified execution error. Code and Message preserve the
// provider's wording verbatim for diagnostics.
type Fault struct {
	Kind      FaultKind
	Code      string
	Message   string
	RequestID string
	wrapped   error
}

func (f *Fault) Error() string {
	if f.Code != "" {
		return fmt.Sprintf("%s: %s: %s", f.Kind, f.Code, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Fault) Unwrap() error { return f.wrapped }

// NewFault builds a fault of the given kind.
func NewFault(kind FaultKind, code, message string) *Fault {
	return &Fault{Kind: kind, Code: code, Message: message}
}

// authentication-class provider codes: the credential itself was rejected.
var authenticationCodes = map[string]bool{
	"UnrecognizedClientException": true,
	"InvalidClientTokenId":        true,
	"ExpiredToken":                true,
	"ExpiredTokenException":       true,
	"SignatureDoesNotMatch":       true,
	"AuthFailure":                 true,
	"InvalidAccessKeyId":          true,
}

// permission-class provider codes: valid credential, missing rights.
var permissionCodes = map[string]bool{
	"AccessDenied":          true,
	"AccessDeniedException": true,
	"UnauthorizedOperation": true,
	"UnauthorizedException": true,
	"Forbidden":             true,
}

// limit-class provider codes: throttling or temporary unavailability.
var limitCodes = map[string]bool{
	"Throttling":                true,
	"ThrottlingException":       true,
	"TooManyRequestsException":  true,
	"RequestLimitExceeded":      true,
	"LimitExceededException":    true,
	"ServiceUnavailable":        true,
	"ServiceUnavailableException": true,
	"SlowDown":                  true,
	"ProvisionedThroughputExceededException": true,
}

// KindForCode maps a provider error code to a fault kind. Codes outside the
// known sets classify as generic provider faults.
func KindForCode(code string) FaultKind {
	switch {
	case authenticationCodes[code]:
		return FaultAuthentication
	case permissionCodes[code]:
		return FaultPermission
	case limitCodes[code]:
		return FaultServiceLimit
	default:
		return FaultProvider
	}
}

// Classify wraps any error into a fault. Already-classified faults pass
// through unchanged; a context deadline becomes a provider fault with code
// RequestTimeout so a sweep's per-task timeout is recorded, not hung on.
func Classify(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Fault{Kind: FaultProvider, Code: "RequestTimeout", Message: "operation timed out", wrapped: err}
	}
	return &Fault{Kind: FaultProvider, Message: err.Error(), wrapped: err}
}
