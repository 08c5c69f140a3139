package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"marketgate.org/internal/identity"
	"marketgate.org/internal/obs"
)

// PGChannel is the NOTIFY channel written by the accounts_notify_change trigger.
const PGChannel = "account_changes"

// ErrNotListening is returned by PGFeed.Subscribe while the LISTEN connection is down.
var ErrNotListening = errors.New("realtime: postgres listener not connected")

// PGFeed turns Postgres NOTIFY payloads into change events. A single LISTEN
// connection feeds an in-process Hub; losing it drops every subscription.
type PGFeed struct {
	pool *pgxpool.Pool
	hub  *Hub
	log  *zap.Logger

	// mu makes the listening check plus registration atomic with a disconnect.
	mu        sync.Mutex
	listening bool
}

var _ identity.Feed = (*PGFeed)(nil)

func NewPGFeed(pool *pgxpool.Pool) *PGFeed {
	return &PGFeed{pool: pool, hub: NewHub(), log: obs.Logger()}
}

func (f *PGFeed) Subscribe(ctx context.Context, accountID string) (<-chan identity.ChangeEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.listening {
		return nil, ErrNotListening
	}
	return f.hub.Subscribe(ctx, accountID)
}

func (f *PGFeed) markListening() {
	f.mu.Lock()
	f.listening = true
	f.mu.Unlock()
}

// markDisconnected stops accepting subscriptions and drops the live ones. It reports
// whether the feed had been listening.
func (f *PGFeed) markDisconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.listening
	f.listening = false
	f.hub.DropAll()
	return was
}

// Run listens until ctx ends, reconnecting with backoff.
func (f *PGFeed) Run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 30 * time.Second
	for ctx.Err() == nil {
		err := f.listen(ctx)
		if f.markDisconnected() {
			b.Reset()
		}
		if ctx.Err() != nil {
			return
		}
		wait := b.NextBackOff()
		f.log.Warn("pg_feed_disconnected", zap.Error(err), zap.Duration("retry_in", wait))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (f *PGFeed) listen(ctx context.Context) error {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "listen "+pgx.Identifier{PGChannel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	f.markListening()
	f.log.Info("pg_feed_listening", zap.String("channel", PGChannel))

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		evt, err := DecodePGNotification([]byte(n.Payload))
		if err != nil {
			f.log.Warn("pg_feed_decode_failed", zap.Error(err))
			continue
		}
		_ = f.hub.Publish(ctx, evt)
	}
}

type pgAccountRow struct {
	ID                string     `json:"id"`
	BoundOrigin       string     `json:"bound_origin"`
	ClaimedIdentifier string     `json:"claimed_identifier"`
	DisplayName       string     `json:"display_name"`
	Subject           string     `json:"subject"`
	Approved          bool       `json:"approved"`
	CreatedAt         time.Time  `json:"created_at"`
	ApprovedAt        *time.Time `json:"approved_at"`
}

// DecodePGNotification parses the trigger payload {"eventType": TG_OP, "payload": row}.
func DecodePGNotification(raw []byte) (identity.ChangeEvent, error) {
	var msg struct {
		Type    string       `json:"eventType"`
		Payload pgAccountRow `json:"payload"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return identity.ChangeEvent{}, err
	}
	if msg.Payload.ID == "" {
		return identity.ChangeEvent{}, errors.New("payload without id")
	}
	row := msg.Payload
	acct := identity.Account{
		ID:                row.ID,
		BoundOrigin:       row.BoundOrigin,
		ClaimedIdentifier: row.ClaimedIdentifier,
		DisplayName:       row.DisplayName,
		Subject:           row.Subject,
		Approved:          row.Approved,
		CreatedAt:         row.CreatedAt,
	}
	if row.ApprovedAt != nil {
		acct.ApprovedAt = *row.ApprovedAt
	}
	return identity.ChangeEvent{Type: msg.Type, Account: acct}, nil
}
