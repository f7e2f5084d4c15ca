package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Arrow-air/svc-telemetry/pkg/logger"
)

// claimCtxKey is the gin context key holding the verified Claim
const claimCtxKey = "auth_claim"

// Authenticator proves who sent a request
type Authenticator interface {
	Authenticate(r *http.Request) (*Claim, error)
}

// BearerAuthenticator verifies bearer tokens issued by a TokenService
type BearerAuthenticator struct {
	Tokens     *TokenService
	CookieName string
}

func (a *BearerAuthenticator) Authenticate(r *http.Request) (*Claim, error) {
	token, err := Extract(r, a.CookieName)
	if err != nil {
		return nil, err
	}
	return a.Tokens.Verify(token)
}

// Middleware rejects unauthenticated requests with 401 and a JSON body,
// otherwise stores the Claim on the context for the handler.
func Middleware(authn Authenticator, log *logger.Logger, onReject func()) gin.HandlerFunc {
	return func(c *gin.Context) {
		claim, err := authn.Authenticate(c.Request)
		if err != nil {
			if onReject != nil {
				onReject()
			}
			var reqErr *RequestError
			if errors.As(err, &reqErr) {
				log.Warn("request not authenticated", "path", c.FullPath(), "reason", reqErr.Message)
				c.AbortWithStatusJSON(http.StatusUnauthorized, reqErr)
				return
			}
			log.Warn("could not verify token", "path", c.FullPath(), "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, fail("Invalid token"))
			return
		}

		log.Debug("request authenticated", "subject", claim.Subject)
		c.Set(claimCtxKey, claim)
		c.Next()
	}
}

// ClaimFrom returns the Claim stored by Middleware
func ClaimFrom(c *gin.Context) (*Claim, bool) {
	v, ok := c.Get(claimCtxKey)
	if !ok {
		return nil, false
	}
	claim, ok := v.(*Claim)
	return claim, ok
}
