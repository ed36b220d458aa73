// Package middleware provides the gin handlers a host service mounts to take
// part in the remote directory: auto-login links and the services dropdown.
package middleware

import (
	"github.com/gin-gonic/gin"
)

// UserKey is the gin context key under which the host's authentication
// layer stores the logged-in *Identity.
const UserKey = "nexus.user"

// Identity is the logged-in user as seen by the middlewares.
type Identity struct {
	ID    string
	Email string
	// Syncable reports whether the user is present in the remote directory.
	Syncable bool
}

// CurrentUser returns the identity stored under UserKey, if any.
func CurrentUser(c *gin.Context) (*Identity, bool) {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(*Identity)
	return id, ok && id != nil
}
