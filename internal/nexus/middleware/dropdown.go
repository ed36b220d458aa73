package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// DropdownKey is the gin context key holding the dropdown status
// (map[string]any). It is empty for users outside the directory and nil
// when the remote lookup failed.
const DropdownKey = "nexus.dropdown"

// DefaultDropdownTTL is how long a user's dropdown status is cached.
const DefaultDropdownTTL = 600 * time.Second

// StatusClient looks up dropdown status. *api.Client implements it.
type StatusClient interface {
	DropdownStatus(ctx context.Context, email string) (map[string]any, error)
}

// Dropdown fetches and caches the services dropdown of the logged-in user.
type Dropdown struct {
	client StatusClient
	cache  *cache.Cache
	ttl    time.Duration
	logger *zap.SugaredLogger
}

// NewDropdown creates a Dropdown. A zero ttl selects DefaultDropdownTTL.
func NewDropdown(client StatusClient, ttl time.Duration, logger *zap.SugaredLogger) *Dropdown {
	if ttl <= 0 {
		ttl = DefaultDropdownTTL
	}
	if logger == nil {
		logger = zap.S()
	}
	return &Dropdown{
		client: client,
		cache:  cache.New(ttl, 2*ttl),
		ttl:    ttl,
		logger: logger.Named("dropdown"),
	}
}

func cacheKey(userID string) string {
	return "nexus_dropdown_status:" + userID
}

// Status returns the cached status of user, calling the remote directory on
// a miss. Failures are not cached.
func (d *Dropdown) Status(ctx context.Context, user *Identity) map[string]any {
	key := cacheKey(user.ID)
	if v, ok := d.cache.Get(key); ok {
		return v.(map[string]any)
	}

	status, err := d.client.DropdownStatus(ctx, user.Email)
	if err != nil {
		// the client already logged the failure
		d.logger.Debugw("dropdown status unavailable", "user", user.ID)
		return nil
	}
	if status == nil {
		status = map[string]any{}
	}
	d.cache.Set(key, status, d.ttl)
	return status
}

// TTL returns how long statuses stay cached.
func (d *Dropdown) TTL() time.Duration {
	return d.ttl
}

// Forget drops the cached status of a user.
func (d *Dropdown) Forget(userID string) {
	d.cache.Delete(cacheKey(userID))
}

// Handler returns the gin middleware.
func (d *Dropdown) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := map[string]any{}
		if user, ok := CurrentUser(c); ok && user.Syncable {
			status = d.Status(c.Request.Context(), user)
		}
		c.Set(DropdownKey, status)
		c.Next()
	}
}
