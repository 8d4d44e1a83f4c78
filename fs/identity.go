package fs

import "context"

// Principal is the opaque token naming the acting identity a handle is
// resolved for. Equality is value-based: two Principal values for the same
// acting identity compare equal and therefore share cached handles.
type Principal struct {
	Name string
}

func (p Principal) String() string {
	return p.Name
}

// IdentityProvider supplies the current acting principal. Credential and
// identity acquisition live with the embedding application; this layer only
// consumes the resulting token.
type IdentityProvider interface {
	Current(ctx context.Context) (Principal, error)
}
