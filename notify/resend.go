package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"signflow/errs"
)

// DefaultResendEndpoint is the Resend email API.
const DefaultResendEndpoint = "https://api.resend.com/emails"

// ResendClient sends mail through the Resend HTTP API, retrying transient
// failures with exponential backoff.
type ResendClient struct {
	endpoint   string
	apiKey     string
	from       string
	httpClient *http.Client
	maxRetries uint64
}

var (
	_ Notifier   = (*ResendClient)(nil)
	_ CodeSender = (*ResendClient)(nil)
)

func NewResendClient(apiKey, from string) *ResendClient {
	return &ResendClient{
		endpoint:   DefaultResendEndpoint,
		apiKey:     apiKey,
		from:       from,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
	}
}

// WithEndpoint points the client at another API base, used by tests.
func (c *ResendClient) WithEndpoint(endpoint string) *ResendClient {
	c.endpoint = endpoint
	return c
}

func (c *ResendClient) WithHTTPClient(client *http.Client) *ResendClient {
	c.httpClient = client
	return c
}

func (c *ResendClient) WithMaxRetries(n uint64) *ResendClient {
	c.maxRetries = n
	return c
}

func (c *ResendClient) SendInvitation(ctx context.Context, msg Message) error {
	return c.send(ctx, msg.Email, invitationMail(msg))
}

func (c *ResendClient) SendFinal(ctx context.Context, msg Message) error {
	return c.send(ctx, msg.Email, finalMail(msg))
}

func (c *ResendClient) SendOneTimeCode(ctx context.Context, email, code string) error {
	return c.send(ctx, email, oneTimeCodeMail(code))
}

type resendPayload struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

func (c *ResendClient) send(ctx context.Context, to string, m mail) error {
	body, err := json.Marshal(resendPayload{From: c.from, To: []string{to}, Subject: m.subject, Text: m.text})
	if err != nil {
		return errs.Wrap(errs.KindNotification, "notify: encode payload", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx)

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("resend returned %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
		default:
			return backoff.Permanent(fmt.Errorf("resend returned %d: %s", resp.StatusCode, bytes.TrimSpace(respBody)))
		}
	}

	if err := backoff.Retry(op, retry); err != nil {
		return errs.Wrap(errs.KindNotification, fmt.Sprintf("notify: send to %s", to), err)
	}
	return nil
}
