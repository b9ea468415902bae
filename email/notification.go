package email

import (
	"encoding/json"
	"fmt"
)

// Recipients lists the email addresses that have triggered a bounce or complaint.
type Recipients []struct {
	EmailAddress string `json:"emailAddress"`
}

// BlacklistRequest is an SES bounce or complaint notification, delivered
// through SNS, for addresses we should stop mailing.
type BlacklistRequest struct {
	Reason     string
	Timestamp  string
	Recipients Recipients
	Raw        string
}

// UnmarshalJSON unwraps the SNS envelope. Its Message field holds the SES
// notification as stringified JSON; only one of complaint or bounce is set.
func (r *BlacklistRequest) UnmarshalJSON(b []byte) error {
	var wrapper struct {
		Message   string
		Timestamp string
	}
	if err := json.Unmarshal(b, &wrapper); err != nil {
		return fmt.Errorf("failed to load notification wrapper: %v", err)
	}

	var msg struct {
		NotificationType string `json:"notificationType"`
		Complaint        struct {
			Recipients Recipients `json:"complainedRecipients"`
		} `json:"complaint"`
		Bounce struct {
			Recipients Recipients `json:"bouncedRecipients"`
		} `json:"bounce"`
	}
	if err := json.Unmarshal([]byte(wrapper.Message), &msg); err != nil {
		return fmt.Errorf("failed to load notification message: %v", err)
	}

	recipients := msg.Bounce.Recipients
	if len(msg.Complaint.Recipients) > 0 {
		recipients = msg.Complaint.Recipients
	}
	*r = BlacklistRequest{
		Raw:        wrapper.Message,
		Timestamp:  wrapper.Timestamp,
		Reason:     msg.NotificationType,
		Recipients: recipients,
	}
	return nil
}

// Suppress adds every recipient of the notification to the blacklist.
// It keeps going past individual failures and returns the first one.
func (r *BlacklistRequest) Suppress(store blacklistStore) error {
	var first error
	for _, recipient := range r.Recipients {
		err := store.PutBlacklistedEmail(recipient.EmailAddress, r.Reason, r.Timestamp)
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}
