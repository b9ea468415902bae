// Package newsletter implements double opt-in newsletter subscriptions.
//
// A subscription attempt moves through
//
//	received → rate checked → validated → captcha verified →
//	subscriber created → confirmation email sent
//
// and stops at the first failing step. The subscriber store is the only
// source of truth; the service keeps no copy of subscriber state. If the
// confirmation email can't be sent after the subscriber was created, the
// subscriber is deleted again so that the address can retry.
package newsletter

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openresearch/newsletter-backend/models"
	"github.com/openresearch/newsletter-backend/ratelimit"
	"github.com/openresearch/newsletter-backend/util"
)

// Timeouts for calls to the subscriber store and email dispatcher.
const (
	RequestTimeout = 10 * time.Second
	CleanupTimeout = 5 * time.Second
)

// SubscribeMessage is returned for new and already-known addresses alike so
// that responses can't be used to find out who is subscribed.
const SubscribeMessage = "Thank you! Please check your inbox to confirm your subscription."

// SubscriberStore is the system of record for subscribers.
type SubscriberStore interface {
	// CreateSubscriber returns nil, nil if the store rejects email as a
	// duplicate.
	CreateSubscriber(ctx context.Context, email string, token string) (*models.Subscriber, error)
	ConfirmSubscriber(ctx context.Context, token string) (bool, error)
	Unsubscribe(ctx context.Context, token string) (models.UnsubscribeResult, error)
	DeleteSubscriberByToken(ctx context.Context, token string) error
}

// Emailer sends the transactional newsletter emails.
type Emailer interface {
	SendConfirmation(ctx context.Context, to string, confirmURL string) error
	SendGoodbye(ctx context.Context, to string) error
}

// BotVerifier checks a proof-of-work payload. It must never panic.
type BotVerifier interface {
	Verify(payload string) bool
}

// Service coordinates subscriptions, confirmations and unsubscriptions.
type Service struct {
	Store    SubscriberStore
	Emailer  Emailer
	Verifier BotVerifier
	Limiter  ratelimit.Limiter
	// APIBaseURL is prepended to the confirmation link path.
	APIBaseURL string

	RequestTimeout time.Duration
	CleanupTimeout time.Duration
	newToken       func() string

	background sync.WaitGroup
}

// NewService returns a Service with the default timeouts.
func NewService(store SubscriberStore, emailer Emailer, verifier BotVerifier, limiter ratelimit.Limiter, apiBaseURL string) *Service {
	return &Service{
		Store:          store,
		Emailer:        emailer,
		Verifier:       verifier,
		Limiter:        limiter,
		APIBaseURL:     apiBaseURL,
		RequestTimeout: RequestTimeout,
		CleanupTimeout: CleanupTimeout,
		newToken:       models.NewToken,
	}
}

// ConfirmURL is the link emailed to a new subscriber.
func (s *Service) ConfirmURL(token string) string {
	return s.APIBaseURL + "/api/newsletter/confirm?token=" + url.QueryEscape(token)
}

// Subscribe runs a subscription attempt from the client at ip with the raw
// JSON body. It returns nil both for new subscribers and for addresses the
// store already knows.
func (s *Service) Subscribe(ctx context.Context, ip string, body []byte) error {
	allowed, err := s.Limiter.Allow(ctx, ip)
	if err != nil {
		log.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
	}
	if !allowed {
		subscribeTotal.WithLabelValues("rate_limited").Inc()
		return ErrRateLimited
	}

	req, err := ParseSubscribeRequest(body)
	if err != nil {
		subscribeTotal.WithLabelValues("invalid").Inc()
		return err
	}
	if !req.Privacy {
		subscribeTotal.WithLabelValues("invalid").Inc()
		return ErrConsentRequired
	}
	if !s.Verifier.Verify(req.Altcha) {
		subscribeTotal.WithLabelValues("captcha_failed").Inc()
		return ErrVerificationFailed
	}

	token := s.newToken()
	createCtx, cancel := context.WithTimeout(ctx, s.RequestTimeout)
	defer cancel()
	sub, err := s.Store.CreateSubscriber(createCtx, req.Email, token)
	if err != nil {
		subscribeTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("create subscriber: %w", err)
	}
	if sub == nil {
		log.Info().Str("email", util.MaskEmail(req.Email)).Msg("subscription for known address")
		subscribeTotal.WithLabelValues("duplicate").Inc()
		return nil
	}
	if sub.Token != "" {
		token = sub.Token
	}

	sendCtx, cancelSend := context.WithTimeout(ctx, s.RequestTimeout)
	defer cancelSend()
	if err := s.Emailer.SendConfirmation(sendCtx, req.Email, s.ConfirmURL(token)); err != nil {
		s.removeOrphan(ctx, token)
		subscribeTotal.WithLabelValues("email_failed").Inc()
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	subscribeTotal.WithLabelValues("created").Inc()
	return nil
}

// removeOrphan deletes a subscriber whose confirmation email never went
// out. Failures are logged only.
func (s *Service) removeOrphan(ctx context.Context, token string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.CleanupTimeout)
	defer cancel()
	if err := s.Store.DeleteSubscriberByToken(cleanupCtx, token); err != nil {
		compensationTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Msg("could not delete subscriber after failed confirmation email")
		return
	}
	compensationTotal.WithLabelValues("deleted").Inc()
}

// Confirm completes the double opt-in for token. present distinguishes a
// missing token parameter from an empty one.
func (s *Service) Confirm(ctx context.Context, token string, present bool) Outcome {
	if !present {
		confirmTotal.WithLabelValues(ReasonMissingToken).Inc()
		return errorOutcome(ReasonMissingToken)
	}
	if token == "" {
		confirmTotal.WithLabelValues(ReasonInvalidToken).Inc()
		return errorOutcome(ReasonInvalidToken)
	}
	confirmCtx, cancel := context.WithTimeout(ctx, s.RequestTimeout)
	defer cancel()
	ok, err := s.Store.ConfirmSubscriber(confirmCtx, token)
	if err != nil {
		log.Error().Err(err).Msg("confirm subscriber")
		confirmTotal.WithLabelValues(ReasonServerError).Inc()
		return errorOutcome(ReasonServerError)
	}
	if !ok {
		confirmTotal.WithLabelValues(ReasonInvalidToken).Inc()
		return errorOutcome(ReasonInvalidToken)
	}
	confirmTotal.WithLabelValues("confirmed").Inc()
	return Outcome{Page: PageConfirmed}
}

// Unsubscribe marks the subscriber holding token as unsubscribed and sends
// a goodbye email in the background. The email never affects the outcome.
func (s *Service) Unsubscribe(ctx context.Context, token string, present bool) Outcome {
	if !present || token == "" {
		unsubscribeTotal.WithLabelValues(ReasonMissingToken).Inc()
		return errorOutcome(ReasonMissingToken)
	}
	unsubCtx, cancel := context.WithTimeout(ctx, s.RequestTimeout)
	defer cancel()
	result, err := s.Store.Unsubscribe(unsubCtx, token)
	if err != nil {
		log.Error().Err(err).Msg("unsubscribe")
		unsubscribeTotal.WithLabelValues(ReasonServerError).Inc()
		return errorOutcome(ReasonServerError)
	}
	if !result.Success {
		unsubscribeTotal.WithLabelValues(ReasonInvalidToken).Inc()
		return errorOutcome(ReasonInvalidToken)
	}
	if result.Email != "" {
		s.sendGoodbye(ctx, result.Email)
	}
	unsubscribeTotal.WithLabelValues("unsubscribed").Inc()
	return Outcome{Page: PageUnsubscribed}
}

func (s *Service) sendGoodbye(ctx context.Context, email string) {
	// Detached so that the redirect doesn't wait for, or cancel, the email.
	goodbyeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.RequestTimeout)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer cancel()
		if err := s.Emailer.SendGoodbye(goodbyeCtx, email); err != nil {
			log.Warn().Err(err).Str("email", util.MaskEmail(email)).Msg("goodbye email failed")
		}
	}()
}

// Wait blocks until background emails have finished.
func (s *Service) Wait() {
	s.background.Wait()
}
