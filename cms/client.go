// Package cms talks to the subscriber collection of the headless CMS.
package cms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/openresearch/newsletter-backend/models"
)

const subscribersPath = "/api/newsletter-subscribers"

// Client is a subscriber store backed by the CMS REST API. Requests are
// authenticated with a bearer token.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient returns a Client for the CMS at baseURL.
func NewClient(baseURL string, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: http.DefaultClient,
	}
}

// StatusError is returned for responses the client doesn't know how to
// interpret. Body is kept for logs and must not reach end users.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cms %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

type dataEnvelope struct {
	Data json.RawMessage `json:"data"`
}

type subscriberAttributes struct {
	Email     string                  `json:"email"`
	Token     string                  `json:"token"`
	Confirmed bool                    `json:"confirmed"`
	Status    models.SubscriberStatus `json:"status"`
}

func (c *Client) do(ctx context.Context, method string, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return c.HTTPClient.Do(req)
}

func statusError(op string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(b)}
}

func success(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// CreateSubscriber creates an unconfirmed, active subscriber. The CMS
// rejects duplicate emails with 400 or 409; those return nil, nil.
func (c *Client) CreateSubscriber(ctx context.Context, email string, token string) (*models.Subscriber, error) {
	sub := models.NewSubscriber(email, token)
	resp, err := c.do(ctx, http.MethodPost, subscribersPath, map[string]interface{}{
		"data": subscriberAttributes{
			Email:     sub.Email,
			Token:     sub.Token,
			Confirmed: sub.Confirmed,
			Status:    sub.Status,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("cms create subscriber: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusConflict:
		return nil, nil
	case !success(resp):
		return nil, statusError("create subscriber", resp)
	}
	var envelope dataEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && len(envelope.Data) > 0 {
		var attrs subscriberAttributes
		if json.Unmarshal(envelope.Data, &attrs) == nil && attrs.Email != "" {
			sub.Email = attrs.Email
			sub.Confirmed = attrs.Confirmed
			if attrs.Token != "" {
				sub.Token = attrs.Token
			}
			if attrs.Status != "" {
				sub.Status = attrs.Status
			}
		}
	}
	return &sub, nil
}

// ConfirmSubscriber asks the CMS to confirm the subscriber holding token.
// Any non-2xx answer (unknown, expired or used token) is false.
func (c *Client) ConfirmSubscriber(ctx context.Context, token string) (bool, error) {
	resp, err := c.do(ctx, http.MethodPost, subscribersPath+"/confirm", map[string]string{"token": token})
	if err != nil {
		return false, fmt.Errorf("cms confirm subscriber: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return success(resp), nil
}

// Unsubscribe asks the CMS to mark the subscriber holding token as
// unsubscribed. The CMS answers with the subscriber's email on success.
func (c *Client) Unsubscribe(ctx context.Context, token string) (models.UnsubscribeResult, error) {
	resp, err := c.do(ctx, http.MethodPost, subscribersPath+"/unsubscribe", map[string]string{"token": token})
	if err != nil {
		return models.UnsubscribeResult{}, fmt.Errorf("cms unsubscribe: %w", err)
	}
	defer resp.Body.Close()
	if !success(resp) {
		io.Copy(io.Discard, resp.Body)
		return models.UnsubscribeResult{}, nil
	}
	var body struct {
		Success *bool  `json:"success"`
		Email   string `json:"email"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	result := models.UnsubscribeResult{Success: true, Email: body.Email}
	if body.Success != nil {
		result.Success = *body.Success
	}
	return result, nil
}

// DeleteSubscriberByToken removes the subscriber holding token.
func (c *Client) DeleteSubscriberByToken(ctx context.Context, token string) error {
	resp, err := c.do(ctx, http.MethodDelete, subscribersPath+"/by-token/"+url.PathEscape(token), nil)
	if err != nil {
		return fmt.Errorf("cms delete subscriber: %w", err)
	}
	defer resp.Body.Close()
	if !success(resp) {
		return statusError("delete subscriber", resp)
	}
	return nil
}
