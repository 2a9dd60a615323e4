// Package identity resolves the caller for a request. There are no sessions or
// tokens: the current user is a fixed demo record, optionally swapped for another
// demo user by a request hint when overrides are enabled.
package identity

import (
	"context"
	"net/http"
	"strings"

	"google.golang.org/grpc/metadata"

	"github.com/miradorstack/mirador-pulse/internal/models"
)

const (
	// HeaderName selects a demo user over HTTP.
	HeaderName = "X-Demo-User"
	// MetadataKey selects a demo user over gRPC.
	MetadataKey = "x-demo-user"
	// QueryParam selects a demo user where headers cannot be set, such as browser websockets.
	QueryParam = "user"
)

// DemoUsers are the three built-in accounts, one per role.
var DemoUsers = []models.User{
	{ID: "1", Email: "admin@example.com", Role: models.RoleAdmin, Name: "Admin User"},
	{ID: "2", Email: "engineer@example.com", Role: models.RoleEngineer, Name: "Engineering User"},
	{ID: "3", Email: "viewer@example.com", Role: models.RoleViewer, Name: "Viewer User"},
}

// Static always returns the same user.
type Static struct {
	User models.User
}

// CurrentUser returns the configured user.
func (s Static) CurrentUser() models.User {
	return s.User
}

// Directory looks demo users up by id, email or role.
type Directory struct {
	users []models.User
}

// NewDirectory builds a directory over a copy of users.
func NewDirectory(users []models.User) *Directory {
	return &Directory{users: append([]models.User(nil), users...)}
}

// Lookup finds a user whose id, email or role equals key (case-insensitive for email and role).
func (d *Directory) Lookup(key string) (models.User, bool) {
	key = strings.TrimSpace(key)
	if d == nil || key == "" {
		return models.User{}, false
	}
	for _, u := range d.users {
		if u.ID == key || strings.EqualFold(u.Email, key) || strings.EqualFold(string(u.Role), key) {
			return u, true
		}
	}
	return models.User{}, false
}

// Resolver picks the user for an inbound request.
type Resolver struct {
	fallback      Static
	directory     *Directory
	allowOverride bool
}

// NewResolver returns a resolver that yields fallback unless allowOverride is set
// and the request names a user known to directory.
func NewResolver(fallback models.User, directory *Directory, allowOverride bool) *Resolver {
	return &Resolver{
		fallback:      Static{User: fallback},
		directory:     directory,
		allowOverride: allowOverride,
	}
}

// DefaultResolver resolves every request to the engineer demo user.
func DefaultResolver() *Resolver {
	return NewResolver(DemoUsers[1], NewDirectory(DemoUsers), false)
}

// Resolve maps a hint to a user, falling back to the static user.
func (r *Resolver) Resolve(hint string) models.User {
	if r.allowOverride && hint != "" {
		if u, ok := r.directory.Lookup(hint); ok {
			return u
		}
	}
	return r.fallback.CurrentUser()
}

// FromRequest resolves the caller of an HTTP request.
func (r *Resolver) FromRequest(req *http.Request) models.User {
	hint := req.Header.Get(HeaderName)
	if hint == "" {
		hint = req.URL.Query().Get(QueryParam)
	}
	return r.Resolve(hint)
}

// FromMetadata resolves the caller of a gRPC call.
func (r *Resolver) FromMetadata(ctx context.Context) models.User {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return r.fallback.CurrentUser()
	}
	values := md.Get(MetadataKey)
	if len(values) == 0 {
		return r.fallback.CurrentUser()
	}
	return r.Resolve(values[0])
}

type contextKey string

const userContextKey contextKey = "pulse_user"

// WithUser stores u on ctx.
func WithUser(ctx context.Context, u models.User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

// UserFromContext returns the user stored by WithUser.
func UserFromContext(ctx context.Context) (models.User, bool) {
	u, ok := ctx.Value(userContextKey).(models.User)
	return u, ok
}

// Middleware resolves the caller once per request and stores it on the request context.
func Middleware(r *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := WithUser(req.Context(), r.FromRequest(req))
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}
