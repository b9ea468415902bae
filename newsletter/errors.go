package newsletter

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRateLimited means the client made too many attempts recently.
	ErrRateLimited = errors.New("too many subscription attempts")
	// ErrConsentRequired means the privacy policy wasn't accepted.
	ErrConsentRequired = errors.New("privacy policy consent required")
	// ErrVerificationFailed covers every proof-of-work failure. Callers
	// must not tell clients which check failed.
	ErrVerificationFailed = errors.New("bot verification failed")
	// ErrDeliveryFailed means the confirmation email couldn't be sent and
	// the subscriber was rolled back.
	ErrDeliveryFailed = errors.New("confirmation email could not be sent")
)

// Issue describes one invalid field of a request.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned for malformed subscription requests.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s %s", issue.Field, issue.Message))
	}
	return "invalid request: " + strings.Join(parts, "; ")
}
