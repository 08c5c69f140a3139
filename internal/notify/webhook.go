// Package notify delivers moderator notifications to an outbound webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"marketgate.org/internal/identity"
)

// Webhook posts one JSON message per pending Account. It never retries.
type Webhook struct {
	url     string
	http    *http.Client
	timeout time.Duration
}

var _ identity.Notifier = (*Webhook)(nil)

// NewWebhook returns a Webhook. client may be nil.
func NewWebhook(url string, client *http.Client, timeout time.Duration) *Webhook {
	if client == nil {
		client = http.DefaultClient
	}
	return &Webhook{url: url, http: client, timeout: timeout}
}

// Message is the webhook body.
type Message struct {
	Content string           `json:"content"`
	Account identity.Account `json:"account"`
}

// Format renders the human-readable line moderators see.
func Format(acct identity.Account) string {
	who := acct.DisplayName
	if acct.Subject != "" {
		who = fmt.Sprintf("%s (signed in as %s)", acct.DisplayName, acct.Subject)
	}
	return fmt.Sprintf("Approval requested: %s, identifier %s, account %s", who, acct.ClaimedIdentifier, acct.ID)
}

func (w *Webhook) Notify(ctx context.Context, acct identity.Account) error {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	body, err := json.Marshal(Message{Content: Format(acct), Account: acct})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notify: webhook status %d", resp.StatusCode)
	}
	return nil
}

// Discard is a Notifier that drops messages, used when no webhook is configured.
type Discard struct{}

func (Discard) Notify(context.Context, identity.Account) error { return nil }
