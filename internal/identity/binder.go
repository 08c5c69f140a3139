package identity

import (
	"context"
	"strings"
)

// Binder maps a caller's bind key (network origin or session bind key) to its Account.
type Binder struct {
	accounts AccountStore
}

func NewBinder(accounts AccountStore) *Binder {
	return &Binder{accounts: accounts}
}

// Resolve looks up the Account bound to origin. It is a pure read.
func (b *Binder) Resolve(ctx context.Context, origin string) (Account, error) {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return Account{}, ErrOriginUnavailable
	}
	acct, err := b.accounts.FindByOrigin(ctx, origin)
	if err != nil {
		return Account{}, storeFailure(err)
	}
	return acct, nil
}
