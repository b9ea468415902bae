package newsletter

// Pages of the website that confirm and unsubscribe links end up on.
const (
	PageConfirmed    = "/newsletter/confirmed"
	PageUnsubscribed = "/newsletter/unsubscribed"
	PageError        = "/newsletter/error"
)

// Reasons shown on the error page. They are deliberately coarse.
const (
	ReasonMissingToken = "missing-token"
	ReasonInvalidToken = "invalid-token"
	ReasonServerError  = "server-error"
)

// Outcome is where a confirm or unsubscribe request should be redirected.
type Outcome struct {
	Page   string
	Reason string // Only set for PageError.
}

func errorOutcome(reason string) Outcome {
	return Outcome{Page: PageError, Reason: reason}
}

// Path returns the site-relative redirect target.
func (o Outcome) Path() string {
	if o.Reason == "" {
		return o.Page
	}
	return o.Page + "?reason=" + o.Reason
}
