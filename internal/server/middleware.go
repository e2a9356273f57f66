package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/flowglad/flowglad/internal/apikey/domain"
	identitydomain "github.com/flowglad/flowglad/internal/identity/domain"
)

const contextResolveInputKey = "resolve_input"

// AuthContext collects whatever the request offered as identity: a bearer
// API key, the merchant session cookie, the customer session cookie. It
// does not authenticate; the transaction runner resolves the input when a
// handler opens a transaction, so resolution errors surface exactly once.
func (s *Server) AuthContext(scope identitydomain.AuthScope) gin.HandlerFunc {
	return func(c *gin.Context) {
		input := identitydomain.ResolveInput{AuthScope: scope}

		if token := bearerToken(c); token != "" {
			input.APIKey = token
		}

		if token, ok := s.sessions.ReadToken(c); ok {
			session, err := s.store.GetSession(c.Request.Context(), token)
			if err == nil && session != nil {
				input.Session = session
			}
		}
		if token, ok := s.sessions.ReadCustomerToken(c); ok {
			session, err := s.store.GetCustomerSession(c.Request.Context(), token)
			if err == nil && session != nil {
				input.CustomerSession = session
			}
		}

		if customerID := strings.TrimSpace(c.Query("customer_id")); customerID != "" {
			input.CustomerID = customerID
		}

		if input.APIKey == "" && input.Session == nil && input.CustomerSession == nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextResolveInputKey, input)
		c.Next()
	}
}

func (s *Server) resolveInput(c *gin.Context) (identitydomain.ResolveInput, bool) {
	value, ok := c.Get(contextResolveInputKey)
	if !ok {
		return identitydomain.ResolveInput{}, false
	}
	input, ok := value.(identitydomain.ResolveInput)
	return input, ok
}

// RateLimited throttles by API key when one is presented and by client
// address otherwise. It runs before authentication so a flood of invalid
// keys is shed just as early as a flood of valid ones.
func (s *Server) RateLimited() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if token := bearerToken(c); token != "" {
			key = "key:" + apikeydomain.HashAPIKey(token)
		}

		res, err := s.limiter.Allow(c.Request.Context(), key)
		if err != nil {
			c.Next()
			return
		}
		if !res.Allowed {
			c.Header("Retry-After", res.RetryAfter.String())
			AbortWithError(c, ErrTooManyReqs)
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
