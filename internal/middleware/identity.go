package middleware

import (
	"context"
	"net/http"

	"github.com/makaohq/makao/internal/domain"
)

// Identity headers set by the authenticating edge proxy. Authentication
// itself lives outside this service; by the time a request arrives here
// the edge has already verified the session and stamped the acting party.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
	HeaderCompanyID = "X-Company-ID"
	HeaderAgencyID  = "X-Agency-ID"
)

// ActorContextKey is the context key for the acting party.
const ActorContextKey contextKey = "actor"

// WithActor extracts the acting party from the identity headers and stores
// it in the request context. Requests without a valid identity are
// rejected with 401 before reaching any handler.
func WithActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := domain.Actor{
			ID:        r.Header.Get(HeaderActorID),
			Role:      domain.Role(r.Header.Get(HeaderActorRole)),
			CompanyID: r.Header.Get(HeaderCompanyID),
			AgencyID:  r.Header.Get(HeaderAgencyID),
		}

		if actor.ID == "" || !actor.Role.Valid() {
			respondUnauthorized(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), ActorContextKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetActor retrieves the acting party from the context. The boolean is
// false when WithActor did not run for this request.
func GetActor(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(ActorContextKey).(domain.Actor)
	return actor, ok
}
