package shared

import (
	"errors"

	"github.com/donation-core/internal/http/response"
	"github.com/donation-core/internal/service"

	"github.com/gin-gonic/gin"
)

// MappedError maps a service error onto an envelope code and message.
type MappedError struct {
	Target error
	Code   int
	Msg    string
	// WithReason appends the reason carried by the error to Msg.
	WithReason bool
}

// RespondMapped answers with the first matching rule, or the fallback. Only
// the fallback logs the raw error.
func RespondMapped(c *gin.Context, err error, rules []MappedError, fallbackCode int, fallbackMsg string) {
	for _, rule := range rules {
		if !errors.Is(err, rule.Target) {
			continue
		}
		msg := rule.Msg
		if rule.WithReason {
			if reason := service.Reason(err); reason != "" {
				msg = msg + ": " + reason
			}
		}
		RequestLog(c).Infow("handler_mapped_error", "code", rule.Code, "error", err)
		RespondError(c, rule.Code, msg, nil)
		return
	}
	RespondError(c, fallbackCode, fallbackMsg, err)
}

// PaymentErrorRules taxonomy of the payment flow.
var PaymentErrorRules = []MappedError{
	{Target: service.ErrInvalidRequest, Code: response.CodeBadRequest, Msg: "invalid request", WithReason: true},
	{Target: service.ErrGatewayDeclined, Code: response.CodePaymentDeclined, Msg: "payment declined", WithReason: true},
	{Target: service.ErrGatewayUnavailable, Code: response.CodeServiceUnavailable, Msg: "payment provider unavailable, please try again later"},
	{Target: service.ErrPendingRedirectNotFound, Code: response.CodeNotFound, Msg: "payment not found"},
	{Target: service.ErrRedirectNotCapturable, Code: response.CodeConflict, Msg: "payment cannot be captured"},
}

// ScheduleErrorRules operator schedule actions.
var ScheduleErrorRules = []MappedError{
	{Target: service.ErrInvalidRequest, Code: response.CodeBadRequest, Msg: "invalid request", WithReason: true},
	{Target: service.ErrScheduleNotFound, Code: response.CodeNotFound, Msg: "schedule not found"},
	{Target: service.ErrScheduleTerminal, Code: response.CodeConflict, Msg: "schedule is not active", WithReason: true},
	{Target: service.ErrScheduleEstablished, Code: response.CodeConflict, Msg: "schedule already has a mandate"},
}

// LookupErrorRules back-office reads.
var LookupErrorRules = []MappedError{
	{Target: service.ErrContactNotFound, Code: response.CodeNotFound, Msg: "contact not found"},
	{Target: service.ErrContributionNotFound, Code: response.CodeNotFound, Msg: "contribution not found"},
	{Target: service.ErrScheduleNotFound, Code: response.CodeNotFound, Msg: "schedule not found"},
}

// AuthErrorRules operator login and password changes.
var AuthErrorRules = []MappedError{
	{Target: service.ErrInvalidCredentials, Code: response.CodeUnauthorized, Msg: "invalid username or password"},
	{Target: service.ErrWeakPassword, Code: response.CodeBadRequest, Msg: "password does not meet policy", WithReason: true},
	{Target: service.ErrAdminExists, Code: response.CodeConflict, Msg: "admin already exists"},
	{Target: service.ErrInvalidToken, Code: response.CodeUnauthorized, Msg: "invalid token"},
}
