package identity

import (
	"context"
	"time"
)

// AccountStore persists Account records. Implementations enforce uniqueness of BoundOrigin.
type AccountStore interface {
	// CreateIfAbsent inserts acct unless an Account already exists for acct.BoundOrigin,
	// in which case the existing record is returned with created=false.
	CreateIfAbsent(ctx context.Context, acct Account) (stored Account, created bool, err error)
	Get(ctx context.Context, id string) (Account, error)
	FindByOrigin(ctx context.Context, origin string) (Account, error)
	// Approve flips approved to true. changed is false when it already was.
	Approve(ctx context.Context, id string, at time.Time) (acct Account, changed bool, err error)
	ListPending(ctx context.Context, limit int) ([]Account, error)
}

// BanStore manages ban records keyed by claimed identifier.
type BanStore interface {
	Find(ctx context.Context, identifier string) (BanRecord, error)
	Put(ctx context.Context, ban BanRecord) error
	Delete(ctx context.Context, identifier string) error
	List(ctx context.Context) ([]BanRecord, error)
}

// Directory resolves a claimed identifier to its canonical display name.
// A miss must be reported as ErrIdentifierNotFound.
type Directory interface {
	Lookup(ctx context.Context, identifier string) (string, error)
}

// Notifier delivers a pending-approval message to moderators.
type Notifier interface {
	Notify(ctx context.Context, acct Account) error
}

// AdminPolicy decides admin membership for a claimed identifier.
type AdminPolicy interface {
	IsAdmin(ctx context.Context, identifier string) (bool, error)
}

// Feed pushes change events for one Account. The returned channel is closed when ctx
// ends; a close while ctx is still live means the subscription dropped.
type Feed interface {
	Subscribe(ctx context.Context, accountID string) (<-chan ChangeEvent, error)
}

// Publisher emits change events for feeds that are not driven by the database itself.
type Publisher interface {
	Publish(ctx context.Context, evt ChangeEvent) error
}
