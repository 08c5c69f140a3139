package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"marketgate.org/internal/ids"
	"marketgate.org/internal/obs"
)

const defaultNotifyTimeout = 10 * time.Second

// Submitter creates or replays pending Accounts and notifies moderators about new ones.
type Submitter struct {
	binder        *Binder
	verifier      *Verifier
	accounts      AccountStore
	notifier      Notifier
	notifyTimeout time.Duration
	now           func() time.Time
	log           *zap.Logger

	inflight sync.WaitGroup
}

// SubmitterOption configures a Submitter.
type SubmitterOption func(*Submitter)

// WithNotifier sets the moderator notification channel. Without one no message is sent.
func WithNotifier(n Notifier) SubmitterOption {
	return func(s *Submitter) { s.notifier = n }
}

// WithNotifyTimeout bounds each background notification.
func WithNotifyTimeout(d time.Duration) SubmitterOption {
	return func(s *Submitter) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) SubmitterOption {
	return func(s *Submitter) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *zap.Logger) SubmitterOption {
	return func(s *Submitter) {
		if l != nil {
			s.log = l
		}
	}
}

func NewSubmitter(accounts AccountStore, verifier *Verifier, opts ...SubmitterOption) *Submitter {
	s := &Submitter{
		binder:        NewBinder(accounts),
		verifier:      verifier,
		accounts:      accounts,
		notifyTimeout: defaultNotifyTimeout,
		now:           time.Now,
		log:           obs.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit returns the Account bound to origin, creating a pending one after verification
// when none exists. The first writer for an origin wins; later calls replay its record.
func (s *Submitter) Submit(ctx context.Context, origin, identifier, subject string) (Account, error) {
	existing, err := s.binder.Resolve(ctx, origin)
	switch {
	case err == nil:
		obs.ObserveSubmission("replayed")
		return existing, nil
	case !errors.Is(err, ErrNotFound):
		obs.ObserveSubmission(outcomeFor(err))
		return Account{}, err
	}

	name, err := s.verifier.Verify(ctx, identifier)
	if err != nil {
		obs.ObserveSubmission(outcomeFor(err))
		return Account{}, err
	}

	now := s.now().UTC()
	candidate := Account{
		ID:                ids.New(now),
		BoundOrigin:       strings.TrimSpace(origin),
		ClaimedIdentifier: NormalizeIdentifier(identifier),
		DisplayName:       name,
		Subject:           strings.TrimSpace(subject),
		CreatedAt:         now,
	}
	stored, created, err := s.accounts.CreateIfAbsent(ctx, candidate)
	if err != nil {
		err = storeFailure(err)
		obs.ObserveSubmission(outcomeFor(err))
		return Account{}, err
	}
	if !created {
		// A concurrent submission for the same origin won the insert.
		obs.ObserveSubmission("replayed")
		return stored, nil
	}

	obs.ObserveSubmission("created")
	s.log.Info("approval_requested",
		zap.String("account_id", stored.ID),
		zap.String("identifier", stored.ClaimedIdentifier),
		zap.String("display_name", stored.DisplayName),
	)
	s.dispatch(stored)
	return stored, nil
}

// dispatch fires the moderator notification in the background. Failures are logged only.
func (s *Submitter) dispatch(acct Account) {
	if s.notifier == nil {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				obs.ObserveNotification("failed")
				s.log.Error("notification_panic", zap.String("account_id", acct.ID), zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()
		if err := s.notifier.Notify(ctx, acct); err != nil {
			obs.ObserveNotification("failed")
			s.log.Warn("notification_delivery_failed", zap.String("account_id", acct.ID), zap.Error(err))
			return
		}
		obs.ObserveNotification("sent")
	}()
}

// Drain waits for in-flight notifications or until ctx ends.
func (s *Submitter) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrIdentifierInvalid):
		return "identifier_invalid"
	case errors.Is(err, ErrIdentifierNotFound):
		return "identifier_not_found"
	case errors.Is(err, ErrVerifierUnavailable):
		return "verifier_unavailable"
	case errors.Is(err, ErrOriginUnavailable):
		return "origin_unavailable"
	default:
		return "store_unavailable"
	}
}
