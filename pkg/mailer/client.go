package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/reviewpulse/platform/pkg/common/config"
	"github.com/reviewpulse/platform/pkg/common/httpclient"
	"github.com/reviewpulse/platform/pkg/common/retry"
)

// Client speaks the notification channel's HTTP contract: a recipient
// lookup per account and a synchronous send. Send is deliberately not
// retried here; an unconfirmed alert stays pending and the next flush
// retries it, keeping delivery at-least-once instead of N-times.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	policy  retry.Policy
}

func NewClient(cfg *config.Config, policy retry.Policy) *Client {
	return &Client{
		http:    httpclient.New(cfg.NotifyTimeout),
		baseURL: cfg.NotifyBaseURL,
		apiKey:  cfg.NotifyAPIKey,
		policy:  policy,
	}
}

type sendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

type recipientResponse struct {
	Email string `json:"email"`
}

func (c *Client) Send(ctx context.Context, to, subject, htmlBody string) error {
	payload, err := json.Marshal(sendRequest{To: to, Subject: subject, HTML: htmlBody})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending notification: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification channel returned status %d", resp.StatusCode)
	}
	return nil
}

// RecipientForAccount resolves the single notification recipient for
// an account from the external profile service.
func (c *Client) RecipientForAccount(ctx context.Context, accountID string) (string, error) {
	var recipient recipientResponse
	err := c.policy.Do(ctx, nil, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/recipients/"+accountID, nil)
		if err != nil {
			return err
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("recipient lookup returned status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&recipient)
	})
	if err != nil {
		return "", err
	}
	if recipient.Email == "" {
		return "", fmt.Errorf("account %s has no notification recipient", accountID)
	}
	return recipient.Email, nil
}
