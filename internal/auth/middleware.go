package auth

import (
	"github.com/gin-gonic/gin"

	apperrors "go-bg-remover/internal/errors"
)

const identityKey = "auth.identity"

// Optional attaches the identity when the request carries a valid token and
// lets every request through.
func Optional(p Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, err := p.Identify(c.Request); err == nil {
			c.Set(identityKey, id)
		}
		c.Next()
	}
}

// Required rejects requests without a valid identity.
func Required(p Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := p.Identify(c.Request)
		if err != nil {
			_ = c.Error(apperrors.NewUnauthorizedError("Sign in required", err))
			c.Abort()
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// FromContext returns the identity set by Optional or Required, or nil.
func FromContext(c *gin.Context) *Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	id, _ := v.(*Identity)
	return id
}
