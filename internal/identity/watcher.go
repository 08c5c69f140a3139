package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"marketgate.org/internal/obs"
)

// WatchState is the lifecycle state of one approval watch.
type WatchState int32

const (
	Unsubscribed WatchState = iota
	Watching
	Resolved
	// Stale means the subscription dropped and resubscription gave up.
	Stale
)

func (s WatchState) String() string {
	switch s {
	case Watching:
		return "watching"
	case Resolved:
		return "resolved"
	case Stale:
		return "stale"
	default:
		return "unsubscribed"
	}
}

// WatcherConfig tunes resubscription after a dropped feed. MaxTries bounds both the
// attempts of one resubscription and the number of back-to-back short-lived subscriptions.
type WatcherConfig struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxTries       uint
}

func (c WatcherConfig) withDefaults() WatcherConfig {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 15 * time.Second
	}
	if c.MaxTries == 0 {
		c.MaxTries = 6
	}
	return c
}

type watchKey struct {
	session   string
	accountID string
}

// Watcher attaches approval watches for Accounts and enforces one active watch per
// Account per client session.
type Watcher struct {
	feed     Feed
	accounts AccountStore
	cfg      WatcherConfig
	log      *zap.Logger

	mu     sync.Mutex
	active map[watchKey]*Watch
}

// NewWatcher builds a Watcher. accounts may be nil; when set it is read after every
// (re)subscription so an approval that happened while unsubscribed is not missed.
func NewWatcher(feed Feed, accounts AccountStore, cfg WatcherConfig) *Watcher {
	return &Watcher{
		feed:     feed,
		accounts: accounts,
		cfg:      cfg.withDefaults(),
		log:      obs.Logger(),
		active:   make(map[watchKey]*Watch),
	}
}

// Watch subscribes to changes of accountID and calls onApproved at most once, when a
// change shows the Account approved. Attaching a second watch for the same session and
// Account while the first is active fails with ErrWatcherActive.
func (w *Watcher) Watch(ctx context.Context, session, accountID string, onApproved func(Account)) (*Watch, error) {
	key := watchKey{session: session, accountID: accountID}

	w.mu.Lock()
	if _, busy := w.active[key]; busy {
		w.mu.Unlock()
		return nil, ErrWatcherActive
	}
	wctx, cancel := context.WithCancel(ctx)
	h := &Watch{
		w:          w,
		key:        key,
		onApproved: onApproved,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	w.active[key] = h
	w.mu.Unlock()

	sctx, stop := context.WithCancel(wctx)
	events, err := w.feed.Subscribe(sctx, accountID)
	if err != nil {
		stop()
		cancel()
		w.release(h)
		return nil, fmt.Errorf("%w: %v", ErrSubscriptionDropped, err)
	}

	h.detach = obs.WatcherAttached()
	h.state.Store(int32(Watching))
	go h.run(wctx, subscription{events: events, stop: stop})
	return h, nil
}

func (w *Watcher) release(h *Watch) {
	w.mu.Lock()
	if w.active[h.key] == h {
		delete(w.active, h.key)
	}
	w.mu.Unlock()
}

// Watch is one attached subscription.
type Watch struct {
	w          *Watcher
	key        watchKey
	onApproved func(Account)
	cancel     context.CancelFunc
	detach     func()
	done       chan struct{}

	state atomic.Int32
	errMu sync.Mutex
	err   error
}

// State reports the current lifecycle state.
func (h *Watch) State() WatchState { return WatchState(h.state.Load()) }

// Done is closed once the watch has stopped for any reason.
func (h *Watch) Done() <-chan struct{} { return h.done }

// Err returns the reason a watch went Stale.
func (h *Watch) Err() error {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return h.err
}

// Cancel detaches the watch. Once Cancel returns the approval callback will not run.
// It is safe to call from inside the callback and more than once.
func (h *Watch) Cancel() {
	if h.state.CompareAndSwap(int32(Watching), int32(Unsubscribed)) {
		h.cancel()
		<-h.done
		return
	}
	h.cancel()
}

// errFlapping marks a feed whose subscriptions keep succeeding and then dropping at once.
var errFlapping = errors.New("subscription keeps dropping")

// subscription is one live feed subscription; stop releases it.
type subscription struct {
	events <-chan ChangeEvent
	stop   context.CancelFunc
}

func (h *Watch) run(ctx context.Context, sub subscription) {
	defer close(h.done)
	defer h.state.CompareAndSwap(int32(Watching), int32(Unsubscribed))
	defer h.detach()
	defer h.w.release(h)
	defer h.cancel()
	defer func() { sub.stop() }()

	cfg := h.w.cfg
	since := time.Now()
	var flaps uint
	for {
		if h.resolveFromSnapshot(ctx) {
			return
		}
		if h.consume(ctx, sub.events) {
			return
		}
		if ctx.Err() != nil {
			return
		}
		sub.stop()

		// A subscription that dies sooner than MaxBackoff counts as a flap; enough
		// consecutive flaps end the watch like exhausted retries do.
		if time.Since(since) < cfg.MaxBackoff {
			flaps++
		} else {
			flaps = 0
		}
		if flaps >= cfg.MaxTries {
			h.markStale(errFlapping)
			return
		}

		h.w.log.Warn("approval_watch_dropped", zap.String("account_id", h.key.accountID), zap.Uint("flaps", flaps))
		if !h.pause(ctx, flaps) {
			return
		}
		next, err := h.resubscribe(ctx)
		if err != nil {
			if ctx.Err() == nil {
				h.markStale(err)
			}
			return
		}
		sub, since = next, time.Now()
	}
}

// pause waits before resubscribing after repeated flaps. It reports false if ctx ended.
func (h *Watch) pause(ctx context.Context, flaps uint) bool {
	if flaps == 0 {
		return true
	}
	cfg := h.w.cfg
	d := cfg.InitialBackoff << (flaps - 1)
	if d <= 0 || d > cfg.MaxBackoff {
		d = cfg.MaxBackoff
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// consume reads events until one resolves the watch (true) or the feed closes (false).
func (h *Watch) consume(ctx context.Context, events <-chan ChangeEvent) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case evt, ok := <-events:
			if !ok {
				return false
			}
			if evt.Account.ID != h.key.accountID || !evt.Account.Approved {
				continue
			}
			h.resolve(evt.Account)
			return true
		}
	}
}

func (h *Watch) resolveFromSnapshot(ctx context.Context) bool {
	if h.w.accounts == nil {
		return false
	}
	acct, err := h.w.accounts.Get(ctx, h.key.accountID)
	if err != nil {
		if ctx.Err() == nil {
			h.w.log.Debug("approval_snapshot_failed", zap.String("account_id", h.key.accountID), zap.Error(err))
		}
		return false
	}
	if !acct.Approved {
		return false
	}
	h.resolve(acct)
	return true
}

func (h *Watch) resolve(acct Account) {
	if !h.state.CompareAndSwap(int32(Watching), int32(Resolved)) {
		return
	}
	if h.onApproved != nil {
		h.onApproved(acct)
	}
}

func (h *Watch) resubscribe(ctx context.Context) (subscription, error) {
	cfg := h.w.cfg
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialBackoff
	b.MaxInterval = cfg.MaxBackoff

	return backoff.Retry(ctx, func() (subscription, error) {
		sctx, stop := context.WithCancel(ctx)
		events, err := h.w.feed.Subscribe(sctx, h.key.accountID)
		if err != nil {
			stop()
			return subscription{}, err
		}
		return subscription{events: events, stop: stop}, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(cfg.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			h.w.log.Info("approval_watch_retry",
				zap.String("account_id", h.key.accountID),
				zap.Duration("next", next),
				zap.Error(err),
			)
		}),
	)
}

func (h *Watch) markStale(cause error) {
	if !h.state.CompareAndSwap(int32(Watching), int32(Stale)) {
		return
	}
	h.errMu.Lock()
	h.err = fmt.Errorf("%w: %v", ErrSubscriptionDropped, cause)
	h.errMu.Unlock()
	h.w.log.Warn("approval_watch_stale", zap.String("account_id", h.key.accountID), zap.Error(cause))
}
