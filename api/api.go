package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/altcha-org/altcha-lib-go"
	raven "github.com/getsentry/raven-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/openresearch/newsletter-backend/email"
	"github.com/openresearch/newsletter-backend/newsletter"
	"github.com/openresearch/newsletter-backend/util"
)

////////////////////////////////
//  *****   REST API   *****  //
////////////////////////////////

// Client-facing messages. Internal detail never goes into these.
const (
	msgRateLimited        = "Too many requests. Please try again later."
	msgInvalidRequest     = "Invalid request."
	msgConsentRequired    = "You must accept the privacy policy to subscribe."
	msgVerificationFailed = "Bot verification failed. Please try again."
	msgDeliveryFailed     = "We couldn't send the confirmation email. Please try again later."
	msgInternalError      = "An internal error occurred. Please try again later."
)

// API is the HTTP API that this service provides.
// Subscription requests respond with a JSON object carrying either
// {
//     message // Human-readable success message.
// }
// or
// {
//     error  // Generic error message.
//     issues // Per-field problems, for invalid requests only.
// }
// Confirm and unsubscribe links always respond with a redirect to a page
// of the website.
type API struct {
	Newsletter *newsletter.Service
	Challenges ChallengeIssuer
	// Database receives SES bounces and complaints. May be nil.
	Database           BlacklistStore
	SiteURL            string
	AllowedOrigins     []string
	AmazonAuthorizeKey string
}

// ChallengeIssuer hands out proof-of-work challenges.
type ChallengeIssuer interface {
	Challenge() (altcha.Challenge, error)
}

// BlacklistStore records addresses that must not be emailed again.
type BlacklistStore interface {
	PutBlacklistedEmail(email string, reason string, timestamp string) error
	IsBlacklistedEmail(string) (bool, error)
}

type response struct {
	StatusCode int                `json:"-"`
	Message    string             `json:"message,omitempty"`
	Error      string             `json:"error,omitempty"`
	Issues     []newsletter.Issue `json:"issues,omitempty"`
	// internal is reported to Sentry for server errors, never to clients.
	internal string
}

type apiHandler func(r *http.Request) response

func (api *API) wrapper(handler apiHandler) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		response := handler(r)
		if response.StatusCode == http.StatusInternalServerError {
			log.Error().Str("path", r.URL.Path).Msg(response.internal)
			packet := raven.NewPacket(response.internal, raven.NewHttp(r))
			raven.Capture(packet, nil)
		}
		writeJSON(w, response)
	}
}

func pingHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
}

// RegisterHandlers binds API functions to the given http server,
// and returns the resulting handler.
func (api *API) RegisterHandlers(mux *http.ServeMux) http.Handler {
	mux.HandleFunc("/api/newsletter/challenge", api.challenge)
	mux.HandleFunc("/api/newsletter/subscribe", api.wrapper(api.subscribe))
	mux.HandleFunc("/api/newsletter/confirm", api.confirm)
	mux.HandleFunc("/api/newsletter/unsubscribe", api.unsubscribe)
	if api.Database != nil {
		mux.HandleFunc("/sns", HandleSESNotification(api.Database, api.AmazonAuthorizeKey))
	}
	mux.HandleFunc("/api/ping", pingHandler)
	mux.Handle("/metrics", promhttp.Handler())
	return middleware(mux, api.AllowedOrigins, log.Logger)
}

// Challenge is the handler for /api/newsletter/challenge.
//   GET /api/newsletter/challenge
//        Returns a fresh ALTCHA challenge, as expected by the widget.
func (api *API) challenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, response{StatusCode: http.StatusMethodNotAllowed,
			Error: "/api/newsletter/challenge only accepts GET requests"})
		return
	}
	challenge, err := api.Challenges.Challenge()
	if err != nil {
		api.wrapper(func(*http.Request) response { return serverError("challenge: %v", err) })(w, r)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(challenge); err != nil {
		log.Error().Err(err).Msg("write challenge")
	}
}

// Subscribe is the handler for /api/newsletter/subscribe.
//   POST /api/newsletter/subscribe
//        JSON body {email, altcha, privacy}.
//        Responds 200 for new and known addresses alike.
func (api *API) subscribe(r *http.Request) response {
	if r.Method != http.MethodPost {
		return response{StatusCode: http.StatusMethodNotAllowed,
			Error: "/api/newsletter/subscribe only accepts POST requests"}
	}
	// Bad bodies, including oversized or unreadable ones, are rejected by
	// the service after the rate limit has counted the attempt.
	body, err := io.ReadAll(io.LimitReader(r.Body, newsletter.MaxBodyBytes+1))
	if err != nil {
		body = nil
	}
	err = api.Newsletter.Subscribe(r.Context(), util.ClientIP(r), body)
	if err == nil {
		return response{StatusCode: http.StatusOK, Message: newsletter.SubscribeMessage}
	}
	var verr *newsletter.ValidationError
	switch {
	case errors.Is(err, newsletter.ErrRateLimited):
		return response{StatusCode: http.StatusTooManyRequests, Error: msgRateLimited}
	case errors.As(err, &verr):
		resp := badRequest(msgInvalidRequest)
		resp.Issues = verr.Issues
		return resp
	case errors.Is(err, newsletter.ErrConsentRequired):
		return badRequest(msgConsentRequired)
	case errors.Is(err, newsletter.ErrVerificationFailed):
		return badRequest(msgVerificationFailed)
	case errors.Is(err, newsletter.ErrDeliveryFailed):
		resp := serverError(err.Error())
		resp.Error = msgDeliveryFailed
		return resp
	}
	return serverError(err.Error())
}

// Confirm is the handler for /api/newsletter/confirm.
//   GET /api/newsletter/confirm?token=<token>
//        Redirects to the confirmed page, or the error page with a reason.
func (api *API) confirm(w http.ResponseWriter, r *http.Request) {
	token, present := tokenParam(r)
	api.redirect(w, r, api.Newsletter.Confirm(r.Context(), token, present))
}

// Unsubscribe is the handler for /api/newsletter/unsubscribe.
//   GET /api/newsletter/unsubscribe?token=<token>
//        Redirects to the unsubscribed page, or the error page with a reason.
func (api *API) unsubscribe(w http.ResponseWriter, r *http.Request) {
	token, present := tokenParam(r)
	api.redirect(w, r, api.Newsletter.Unsubscribe(r.Context(), token, present))
}

// tokenParam distinguishes ?token= (present, empty) from no parameter.
func tokenParam(r *http.Request) (string, bool) {
	values, ok := r.URL.Query()["token"]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func (api *API) redirect(w http.ResponseWriter, r *http.Request, outcome newsletter.Outcome) {
	http.Redirect(w, r, strings.TrimSuffix(api.SiteURL, "/")+outcome.Path(), http.StatusTemporaryRedirect)
}

// Writes `apiResponse` as a JSON object to http.ResponseWriter `w`. If an
// error occurs, writes `http.StatusInternalServerError` to `w`.
func writeJSON(w http.ResponseWriter, apiResponse response) {
	b, err := json.Marshal(apiResponse)
	if err != nil {
		http.Error(w, msgInternalError, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(apiResponse.StatusCode)
	fmt.Fprintf(w, "%s\n", b)
}

func badRequest(message string) response {
	return response{StatusCode: http.StatusBadRequest, Error: message}
}

func serverError(format string, a ...interface{}) response {
	return response{
		StatusCode: http.StatusInternalServerError,
		Error:      msgInternalError,
		internal:   fmt.Sprintf(format, a...),
	}
}

type ravenExtraContent string

// Class satisfies raven's Interface interface so we can send this as extra context.
// https://github.com/getsentry/raven-go/issues/125
func (r ravenExtraContent) Class() string {
	return "extra"
}

func (r ravenExtraContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(r))
}

// HandleSESNotification handles AWS SES bounces and complaints submitted to a webhook
// via AWS SNS (Simple Notification Service). Bounced and complaining addresses
// are never emailed again.
// The SNS webhook is configured to include a secret API key.
func HandleSESNotification(database BlacklistStore, authorizeKey string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		keyParam := r.URL.Query()["amazon_authorize_key"]
		if authorizeKey == "" || len(keyParam) == 0 || keyParam[0] != authorizeKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			raven.CaptureError(err, nil)
			return
		}

		data := &email.BlacklistRequest{}
		if err = json.Unmarshal(body, data); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			raven.CaptureError(err, nil, ravenExtraContent(body))
			return
		}

		tags := map[string]string{"notification_type": data.Reason}
		raven.CaptureMessage("Received SES notification", tags, ravenExtraContent(data.Raw))
		log.Info().Str("type", data.Reason).Int("recipients", len(data.Recipients)).Msg("SES notification")

		if err = data.Suppress(database); err != nil {
			raven.CaptureError(err, nil)
		}
		w.WriteHeader(http.StatusOK)
	}
}
