package identity

import (
	"context"
	"errors"
	"fmt"

	"marketgate.org/internal/obs"
)

// Role is the access level a guarded page requires.
type Role string

const (
	// RoleVisitor pages are open to anonymous callers when the gate allows them.
	RoleVisitor Role = "visitor"
	// RoleMember pages need a bound, approved Account.
	RoleMember Role = "member"
	// RoleAdmin pages need an Account whose identifier passes the AdminPolicy.
	RoleAdmin Role = "admin"
)

// ParseRole maps a query value to a Role, defaulting to RoleVisitor.
func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case "", RoleVisitor:
		return RoleVisitor, nil
	case RoleMember:
		return RoleMember, nil
	case RoleAdmin:
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

// DenyReason explains a denied Decision.
type DenyReason string

const (
	ReasonNone          DenyReason = ""
	ReasonAnonymous     DenyReason = "anonymous"
	ReasonBanned        DenyReason = "banned"
	ReasonNotAuthorized DenyReason = "not_authorized"
	ReasonPending       DenyReason = "pending_approval"
	ReasonUnavailable   DenyReason = "unavailable"
)

// Decision is the outcome of one Authorize call.
type Decision struct {
	Allowed   bool
	Reason    DenyReason
	BanReason string
	// Account is nil for anonymous callers.
	Account *Account
}

func allow(acct *Account) Decision { return Decision{Allowed: true, Account: acct} }

func deny(reason DenyReason, acct *Account) Decision {
	return Decision{Reason: reason, Account: acct}
}

// Gate evaluates ban and admin status on every guarded request. Nothing is cached.
type Gate struct {
	binder         *Binder
	bans           BanStore
	admins         AdminPolicy
	allowAnonymous bool
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// AllowAnonymous controls whether callers without an Account pass RoleVisitor checks.
func AllowAnonymous(ok bool) GateOption {
	return func(g *Gate) { g.allowAnonymous = ok }
}

func NewGate(accounts AccountStore, bans BanStore, admins AdminPolicy, opts ...GateOption) *Gate {
	g := &Gate{
		binder:         NewBinder(accounts),
		bans:           bans,
		admins:         admins,
		allowAnonymous: true,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize decides whether the caller bound to origin may access a page requiring role.
// Any lookup failure yields a deny with ReasonUnavailable alongside the error.
func (g *Gate) Authorize(ctx context.Context, origin string, role Role) (Decision, error) {
	d, err := g.authorize(ctx, origin, role)
	outcome := "allow"
	if !d.Allowed {
		outcome = string(d.Reason)
	}
	obs.ObserveGateDecision(string(role), outcome)
	return d, err
}

// AuthorizeAnonymous applies the anonymous policy to a caller that has no bind key at all.
func (g *Gate) AuthorizeAnonymous(role Role) Decision {
	d := g.anonymous(role)
	outcome := "allow"
	if !d.Allowed {
		outcome = string(d.Reason)
	}
	obs.ObserveGateDecision(string(role), outcome)
	return d
}

func (g *Gate) authorize(ctx context.Context, origin string, role Role) (Decision, error) {
	acct, err := g.binder.Resolve(ctx, origin)
	switch {
	case errors.Is(err, ErrNotFound):
		return g.anonymous(role), nil
	case err != nil:
		return deny(ReasonUnavailable, nil), err
	}

	ban, err := g.bans.Find(ctx, acct.ClaimedIdentifier)
	switch {
	case err == nil:
		d := deny(ReasonBanned, &acct)
		d.BanReason = ban.Reason
		return d, nil
	case !errors.Is(err, ErrNotFound):
		return deny(ReasonUnavailable, &acct), storeFailure(err)
	}

	switch role {
	case RoleAdmin:
		ok, err := g.admins.IsAdmin(ctx, acct.ClaimedIdentifier)
		if err != nil {
			return deny(ReasonUnavailable, &acct), storeFailure(err)
		}
		if !ok {
			return deny(ReasonNotAuthorized, &acct), nil
		}
	case RoleMember:
		if !acct.Approved {
			return deny(ReasonPending, &acct), nil
		}
	}
	return allow(&acct), nil
}

func (g *Gate) anonymous(role Role) Decision {
	switch {
	case role == RoleAdmin:
		return deny(ReasonNotAuthorized, nil)
	case role == RoleVisitor && g.allowAnonymous:
		return allow(nil)
	default:
		return deny(ReasonAnonymous, nil)
	}
}
