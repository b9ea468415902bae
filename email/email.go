package email

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/openresearch/newsletter-backend/util"
)

type blacklistStore interface {
	PutBlacklistedEmail(email string, reason string, timestamp string) error
	IsBlacklistedEmail(string) (bool, error)
}

// Message is a single rendered email.
type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// Transport submits a rendered message for delivery.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// Mailer renders newsletter emails and hands them to a Transport.
type Mailer struct {
	transport Transport
	sender    string
	database  blacklistStore
}

// NewMailer returns a Mailer sending from sender through transport.
// database may be nil, in which case no addresses are suppressed.
func NewMailer(transport Transport, sender string, database blacklistStore) *Mailer {
	return &Mailer{transport: transport, sender: sender, database: database}
}

// SendConfirmation sends the double opt-in email with a link to confirmURL.
func (m *Mailer) SendConfirmation(ctx context.Context, to string, confirmURL string) error {
	body, err := render(confirmationTemplate, confirmationData{ConfirmURL: confirmURL})
	if err != nil {
		return err
	}
	return m.sendEmail(ctx, confirmationSubject, body, to)
}

// SendGoodbye tells a subscriber that they've been unsubscribed.
func (m *Mailer) SendGoodbye(ctx context.Context, to string) error {
	body, err := render(goodbyeTemplate, nil)
	if err != nil {
		return err
	}
	return m.sendEmail(ctx, goodbyeSubject, body, to)
}

func (m *Mailer) sendEmail(ctx context.Context, subject string, body string, address string) error {
	if m.database != nil {
		blacklisted, err := m.database.IsBlacklistedEmail(address)
		if err != nil {
			return err
		}
		if blacklisted {
			return fmt.Errorf("address %s is blacklisted", util.MaskEmail(address))
		}
	}
	return m.transport.Send(ctx, Message{
		From:    m.sender,
		To:      address,
		Subject: subject,
		HTML:    body,
	})
}

// LogTransport logs messages instead of sending them. Used when no email
// transport is configured.
type LogTransport struct{}

// Send logs msg.
func (LogTransport) Send(ctx context.Context, msg Message) error {
	log.Warn().
		Str("to", util.MaskEmail(msg.To)).
		Str("subject", msg.Subject).
		Msg("email transport not configured, not sending email")
	log.Debug().Msg(msg.HTML)
	return nil
}
