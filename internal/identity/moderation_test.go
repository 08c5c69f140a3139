package identity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketgate.org/internal/identity"
	"marketgate.org/internal/realtime"
	"marketgate.org/internal/store/memory"
)

func TestApprovePublishesOnceAndStaysApproved(t *testing.T) {
	store := memory.New()
	hub := realtime.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	seedAccount(t, store, "10.0.0.1", goodID, false)

	events, _ := hub.Subscribe(ctx, "acct-10.0.0.1")
	mod := identity.NewModeration(store, store, hub)

	acct, err := mod.Approve(ctx, "acct-10.0.0.1")
	if err != nil || !acct.Approved {
		t.Fatalf("approve: %+v %v", acct, err)
	}
	select {
	case evt := <-events:
		if evt.Type != identity.EventUpdate || !evt.Account.Approved {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("expected change event")
	}

	again, err := mod.Approve(ctx, "acct-10.0.0.1")
	if err != nil || !again.Approved || !again.ApprovedAt.Equal(acct.ApprovedAt) {
		t.Fatalf("re-approve must be a no-op: %+v %v", again, err)
	}
	select {
	case evt := <-events:
		t.Fatalf("re-approve must not publish, got %+v", evt)
	case <-time.After(30 * time.Millisecond):
	}

	if _, err := mod.Approve(ctx, "missing"); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApprovedAccountIsMonotonicAcrossFeedAndStore(t *testing.T) {
	store := memory.New()
	hub := realtime.NewHub()
	seedAccount(t, store, "10.0.0.1", goodID, false)
	mod := identity.NewModeration(store, store, hub)
	ctx := context.Background()

	observed := []bool{}
	for i := 0; i < 3; i++ {
		acct, err := store.Get(ctx, "acct-10.0.0.1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		observed = append(observed, acct.Approved)
		if i == 1 {
			if _, err := mod.Approve(ctx, acct.ID); err != nil {
				t.Fatalf("approve: %v", err)
			}
		}
	}
	for i := 1; i < len(observed); i++ {
		if observed[i-1] && !observed[i] {
			t.Fatalf("approved reverted: %v", observed)
		}
	}
}

func TestBanLifecycle(t *testing.T) {
	store := memory.New()
	mod := identity.NewModeration(store, store, nil)
	ctx := context.Background()

	if _, err := mod.Ban(ctx, "bad", "spam", "mod"); !errors.Is(err, identity.ErrIdentifierInvalid) {
		t.Fatalf("expected ErrIdentifierInvalid, got %v", err)
	}
	ban, err := mod.Ban(ctx, "  0123456789ABCDEF0123456789ABCDEF ", " spam ", "mod")
	if err != nil {
		t.Fatalf("ban: %v", err)
	}
	if ban.Identifier != goodID || ban.Reason != "spam" {
		t.Fatalf("unexpected ban %+v", ban)
	}
	bans, err := mod.Bans(ctx)
	if err != nil || len(bans) != 1 {
		t.Fatalf("bans: %v %v", bans, err)
	}
	if err := mod.Unban(ctx, goodID); err != nil {
		t.Fatalf("unban: %v", err)
	}
	if err := mod.Unban(ctx, goodID); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestModerationStoreFailure(t *testing.T) {
	mod := identity.NewModeration(failingStore{}, failingStore{}, nil)
	if _, err := mod.Pending(context.Background(), 10); !errors.Is(err, identity.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
