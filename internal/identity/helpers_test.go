package identity_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"marketgate.org/internal/identity"
)

const (
	goodID  = "0123456789abcdef0123456789abcdef"
	otherID = "fedcba9876543210fedcba9876543210"
)

type fakeDirectory struct {
	calls atomic.Int32
	names map[string]string
	err   error
}

func (d *fakeDirectory) Lookup(ctx context.Context, identifier string) (string, error) {
	d.calls.Add(1)
	if d.err != nil {
		return "", d.err
	}
	name, ok := d.names[identifier]
	if !ok {
		return "", identity.ErrIdentifierNotFound
	}
	return name, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []identity.Account
	err   error
	block chan struct{}
}

func (n *recordingNotifier) Notify(ctx context.Context, acct identity.Account) error {
	if n.block != nil {
		select {
		case <-n.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, acct)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

var errBackend = errors.New("connection reset by peer")

// failingStore fails every call; it stands in for an unreachable backend.
type failingStore struct{}

func (failingStore) CreateIfAbsent(context.Context, identity.Account) (identity.Account, bool, error) {
	return identity.Account{}, false, errBackend
}
func (failingStore) Get(context.Context, string) (identity.Account, error) {
	return identity.Account{}, errBackend
}
func (failingStore) FindByOrigin(context.Context, string) (identity.Account, error) {
	return identity.Account{}, errBackend
}
func (failingStore) ListPending(context.Context, int) ([]identity.Account, error) {
	return nil, errBackend
}
func (failingStore) Find(context.Context, string) (identity.BanRecord, error) {
	return identity.BanRecord{}, errBackend
}
func (failingStore) Approve(context.Context, string, time.Time) (identity.Account, bool, error) {
	return identity.Account{}, false, errBackend
}
func (failingStore) Put(context.Context, identity.BanRecord) error { return errBackend }
func (failingStore) Delete(context.Context, string) error         { return errBackend }
func (failingStore) List(context.Context) ([]identity.BanRecord, error) {
	return nil, errBackend
}
