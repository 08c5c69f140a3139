package identity

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"marketgate.org/internal/obs"
)

// Moderation is the moderator-facing surface: approvals and the ban list.
type Moderation struct {
	accounts  AccountStore
	bans      BanStore
	publisher Publisher
	now       func() time.Time
	log       *zap.Logger
}

// NewModeration builds the moderation surface. publisher may be nil when the store
// itself drives the change feed (Postgres triggers).
func NewModeration(accounts AccountStore, bans BanStore, publisher Publisher) *Moderation {
	return &Moderation{
		accounts:  accounts,
		bans:      bans,
		publisher: publisher,
		now:       time.Now,
		log:       obs.Logger(),
	}
}

// Approve flips the Account to approved. Approving twice is a no-op.
func (m *Moderation) Approve(ctx context.Context, accountID string) (Account, error) {
	acct, changed, err := m.accounts.Approve(ctx, strings.TrimSpace(accountID), m.now().UTC())
	if err != nil {
		return Account{}, storeFailure(err)
	}
	if !changed {
		return acct, nil
	}
	m.log.Info("account_approved", zap.String("account_id", acct.ID), zap.String("identifier", acct.ClaimedIdentifier))
	if m.publisher != nil {
		evt := ChangeEvent{Type: EventUpdate, Account: acct}
		if err := m.publisher.Publish(ctx, evt); err != nil {
			// Watchers re-read the record after resubscribing, so a lost event only delays them.
			m.log.Warn("approval_publish_failed", zap.String("account_id", acct.ID), zap.Error(err))
		}
	}
	return acct, nil
}

// Pending lists Accounts awaiting approval, oldest first.
func (m *Moderation) Pending(ctx context.Context, limit int) ([]Account, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	res, err := m.accounts.ListPending(ctx, limit)
	return res, storeFailure(err)
}

// Ban records a ban for identifier, replacing any previous reason.
func (m *Moderation) Ban(ctx context.Context, identifier, reason, by string) (BanRecord, error) {
	id := NormalizeIdentifier(identifier)
	if !ValidIdentifier(id) {
		return BanRecord{}, ErrIdentifierInvalid
	}
	ban := BanRecord{
		Identifier: id,
		Reason:     strings.TrimSpace(reason),
		CreatedBy:  strings.TrimSpace(by),
		CreatedAt:  m.now().UTC(),
	}
	if err := m.bans.Put(ctx, ban); err != nil {
		return BanRecord{}, storeFailure(err)
	}
	m.log.Info("identifier_banned", zap.String("identifier", id), zap.String("by", ban.CreatedBy))
	return ban, nil
}

// Unban removes the ban for identifier. ErrNotFound if there was none.
func (m *Moderation) Unban(ctx context.Context, identifier string) error {
	id := NormalizeIdentifier(identifier)
	if !ValidIdentifier(id) {
		return ErrIdentifierInvalid
	}
	return storeFailure(m.bans.Delete(ctx, id))
}

// Bans lists all ban records.
func (m *Moderation) Bans(ctx context.Context) ([]BanRecord, error) {
	res, err := m.bans.List(ctx)
	return res, storeFailure(err)
}
