package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketgate.org/internal/identity"
	"marketgate.org/internal/store/memory"
)

func TestDispatch(t *testing.T) {
	store := memory.New()
	mod := identity.NewModeration(store, store, nil)
	ctx := context.Background()

	_, _, err := store.CreateIfAbsent(ctx, identity.Account{
		ID: "01j0", BoundOrigin: "10.0.0.1", ClaimedIdentifier: "0123456789abcdef0123456789abcdef",
		DisplayName: "trader", CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := dispatch(ctx, mod, "ops", []string{"approve", "01j0"}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	acct, _ := store.Get(ctx, "01j0")
	if !acct.Approved {
		t.Fatal("expected approval")
	}
	if err := dispatch(ctx, mod, "ops", []string{"approve", "missing"}); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := dispatch(ctx, mod, "ops", []string{"ban", "0123456789abcdef0123456789abcdef", "spam"}); err != nil {
		t.Fatalf("ban: %v", err)
	}
	ban, err := store.Find(ctx, "0123456789abcdef0123456789abcdef")
	if err != nil || ban.CreatedBy != "ops" {
		t.Fatalf("ban record: %+v %v", ban, err)
	}
	if err := dispatch(ctx, mod, "ops", []string{"unban", "0123456789abcdef0123456789abcdef"}); err != nil {
		t.Fatalf("unban: %v", err)
	}
	for _, args := range [][]string{{"ban", "x"}, {"approve"}, {"pending", "many"}, {"frobnicate"}} {
		if err := dispatch(ctx, mod, "ops", args); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
}
