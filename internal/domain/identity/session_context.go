package identity

import (
	"context"

	"github.com/katecvn/backoffice/internal/domain/shared"
)

// SessionContext identifies the signed-in back-office user for one request.
// It is built by the transport layer from a validated access token and passed
// explicitly to application services.
type SessionContext struct {
	UserID      string
	Username    string
	Permissions PermissionSet
	// AccessToken is forwarded upstream on behalf of the user
	AccessToken string
}

// Can reports whether the user holds every given permission
func (sc SessionContext) Can(codes ...PermissionCode) bool {
	return sc.Permissions.HasAll(codes...)
}

// Require returns ErrForbidden unless the user holds every given permission
func (sc SessionContext) Require(codes ...PermissionCode) error {
	if sc.UserID == "" {
		return shared.ErrUnauthorized
	}
	if !sc.Can(codes...) {
		return shared.ErrForbidden
	}
	return nil
}

type sessionContextKey struct{}

// WithSessionContext attaches sc to ctx so outbound adapters can act on the
// user's behalf.
func WithSessionContext(ctx context.Context, sc SessionContext) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sc)
}

// SessionContextFrom returns the SessionContext attached to ctx, if any
func SessionContextFrom(ctx context.Context) (SessionContext, bool) {
	sc, ok := ctx.Value(sessionContextKey{}).(SessionContext)
	return sc, ok
}
