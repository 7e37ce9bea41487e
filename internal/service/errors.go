package service

import "errors"

// Payment core taxonomy. Callers branch with errors.Is.
var (
	ErrInvalidRequest     = errors.New("invalid payment request")
	ErrGatewayDeclined    = errors.New("gateway declined the charge")
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	ErrVerificationFailed = errors.New("webhook verification failed")
	ErrDuplicateEvent     = errors.New("duplicate gateway event")
	ErrScheduleExhausted  = errors.New("recurring schedule exhausted")
)

// Lookup and state errors
var (
	ErrContactNotFound         = errors.New("contact not found")
	ErrContributionNotFound    = errors.New("contribution not found")
	ErrScheduleNotFound        = errors.New("recurring schedule not found")
	ErrScheduleTerminal        = errors.New("recurring schedule is terminal")
	ErrScheduleEstablished     = errors.New("recurring schedule already has a mandate")
	ErrPendingRedirectNotFound = errors.New("pending redirect not found")
	ErrRedirectNotCapturable   = errors.New("pending redirect cannot be captured")
)

// Operator auth errors
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAdminExists        = errors.New("admin already exists")
	ErrWeakPassword       = errors.New("password does not meet policy")
	ErrInvalidToken       = errors.New("invalid token")
)

// reasonError attaches a human-readable reason to a taxonomy error.
type reasonError struct {
	kind   error
	reason string
}

func (e *reasonError) Error() string {
	if e.reason == "" {
		return e.kind.Error()
	}
	return e.kind.Error() + ": " + e.reason
}

func (e *reasonError) Unwrap() error {
	return e.kind
}

func withReason(kind error, reason string) error {
	return &reasonError{kind: kind, reason: reason}
}

func invalidRequest(reason string) error {
	return withReason(ErrInvalidRequest, reason)
}

// Reason returns the donor-facing reason carried by err, if any.
func Reason(err error) string {
	var re *reasonError
	if errors.As(err, &re) {
		return re.reason
	}
	return ""
}
