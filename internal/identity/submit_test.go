package identity_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"marketgate.org/internal/identity"
	"marketgate.org/internal/store/memory"
)

func newSubmitter(t *testing.T, dir identity.Directory, n identity.Notifier) (*identity.Submitter, *memory.Store) {
	t.Helper()
	store := memory.New()
	opts := []identity.SubmitterOption{identity.WithLogger(zap.NewNop())}
	if n != nil {
		opts = append(opts, identity.WithNotifier(n))
	}
	return identity.NewSubmitter(store, identity.NewVerifier(dir, time.Second), opts...), store
}

func drain(t *testing.T, s *identity.Submitter) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

func TestSubmitTwiceReturnsSameAccount(t *testing.T) {
	dir := &fakeDirectory{names: map[string]string{goodID: "trader", otherID: "other"}}
	notifier := &recordingNotifier{}
	sub, store := newSubmitter(t, dir, notifier)
	ctx := context.Background()

	first, err := sub.Submit(ctx, "203.0.113.7", goodID, "alice")
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if first.Approved || first.DisplayName != "trader" || first.ID == "" {
		t.Fatalf("unexpected account: %+v", first)
	}

	// A replay, even with a different identifier, returns the first record unchanged.
	second, err := sub.Submit(ctx, "203.0.113.7", otherID, "alice")
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if second.ID != first.ID || second.ClaimedIdentifier != goodID {
		t.Fatalf("expected replay of %+v, got %+v", first, second)
	}
	if store.Count() != 1 {
		t.Fatalf("expected one stored account, got %d", store.Count())
	}
	if dir.calls.Load() != 1 {
		t.Fatalf("replay must not hit the directory, calls=%d", dir.calls.Load())
	}

	drain(t, sub)
	if notifier.count() != 1 {
		t.Fatalf("expected one notification, got %d", notifier.count())
	}
}

func TestSubmitConcurrentSameOriginCreatesOne(t *testing.T) {
	dir := &fakeDirectory{names: map[string]string{goodID: "trader"}}
	notifier := &recordingNotifier{}
	sub, store := newSubmitter(t, dir, notifier)

	const n = 20
	var wg sync.WaitGroup
	got := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			acct, err := sub.Submit(context.Background(), "198.51.100.4", goodID, "")
			if err != nil {
				t.Errorf("submit: %v", err)
				return
			}
			got[i] = acct.ID
		}(i)
	}
	wg.Wait()

	if store.Count() != 1 {
		t.Fatalf("expected exactly one account, got %d", store.Count())
	}
	for _, id := range got {
		if id != got[0] {
			t.Fatalf("callers saw different accounts: %v", got)
		}
	}
	drain(t, sub)
	if notifier.count() != 1 {
		t.Fatalf("expected one notification for one created account, got %d", notifier.count())
	}
}

func TestSubmitUnknownIdentifierCreatesNothing(t *testing.T) {
	dir := &fakeDirectory{names: map[string]string{}}
	notifier := &recordingNotifier{}
	sub, store := newSubmitter(t, dir, notifier)

	_, err := sub.Submit(context.Background(), "203.0.113.7", goodID, "")
	if !errors.Is(err, identity.ErrIdentifierNotFound) {
		t.Fatalf("expected ErrIdentifierNotFound, got %v", err)
	}
	if store.Count() != 0 {
		t.Fatalf("expected no account, got %d", store.Count())
	}
	drain(t, sub)
	if notifier.count() != 0 {
		t.Fatalf("expected no notification, got %d", notifier.count())
	}
}

func TestSubmitMalformedIdentifier(t *testing.T) {
	dir := &fakeDirectory{names: map[string]string{}}
	sub, _ := newSubmitter(t, dir, nil)

	_, err := sub.Submit(context.Background(), "203.0.113.7", "not-a-real-token", "")
	if !errors.Is(err, identity.ErrIdentifierInvalid) {
		t.Fatalf("expected ErrIdentifierInvalid, got %v", err)
	}
	if dir.calls.Load() != 0 {
		t.Fatalf("expected no directory call, got %d", dir.calls.Load())
	}
}

func TestSubmitNotificationFailureIsSwallowed(t *testing.T) {
	dir := &fakeDirectory{names: map[string]string{goodID: "trader"}}
	notifier := &recordingNotifier{err: errors.New("webhook 500")}
	sub, store := newSubmitter(t, dir, notifier)

	acct, err := sub.Submit(context.Background(), "203.0.113.7", goodID, "")
	if err != nil {
		t.Fatalf("notification failure must not surface: %v", err)
	}
	drain(t, sub)
	if _, err := store.Get(context.Background(), acct.ID); err != nil {
		t.Fatalf("account must persist despite notification failure: %v", err)
	}
}

func TestSubmitDoesNotWaitForNotification(t *testing.T) {
	dir := &fakeDirectory{names: map[string]string{goodID: "trader"}}
	notifier := &recordingNotifier{block: make(chan struct{})}
	sub, _ := newSubmitter(t, dir, notifier)

	done := make(chan error, 1)
	go func() {
		_, err := sub.Submit(context.Background(), "203.0.113.7", goodID, "")
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("submit blocked on the notifier")
	}
	close(notifier.block)
	drain(t, sub)
}

func TestSubmitStoreUnavailable(t *testing.T) {
	dir := &fakeDirectory{names: map[string]string{goodID: "trader"}}
	sub := identity.NewSubmitter(failingStore{}, identity.NewVerifier(dir, time.Second), identity.WithLogger(zap.NewNop()))

	_, err := sub.Submit(context.Background(), "203.0.113.7", goodID, "")
	if !errors.Is(err, identity.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestSubmitRequiresOrigin(t *testing.T) {
	dir := &fakeDirectory{names: map[string]string{goodID: "trader"}}
	sub, _ := newSubmitter(t, dir, nil)
	if _, err := sub.Submit(context.Background(), "  ", goodID, ""); !errors.Is(err, identity.ErrOriginUnavailable) {
		t.Fatalf("expected ErrOriginUnavailable, got %v", err)
	}
}
