package identity

import "context"

// StaticAllowlist is an AdminPolicy over a fixed identifier set loaded at startup.
type StaticAllowlist struct {
	set map[string]struct{}
}

var _ AdminPolicy = StaticAllowlist{}

// NewStaticAllowlist copies identifiers into an immutable set.
func NewStaticAllowlist(identifiers []string) StaticAllowlist {
	set := make(map[string]struct{}, len(identifiers))
	for _, id := range identifiers {
		id = NormalizeIdentifier(id)
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return StaticAllowlist{set: set}
}

func (a StaticAllowlist) IsAdmin(_ context.Context, identifier string) (bool, error) {
	_, ok := a.set[NormalizeIdentifier(identifier)]
	return ok, nil
}

// Len reports the allowlist size.
func (a StaticAllowlist) Len() int { return len(a.set) }
