package main

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/itou-labs/nexus-sync/internal/config"
	"github.com/itou-labs/nexus-sync/internal/nexus/db"
	"github.com/itou-labs/nexus-sync/internal/nexus/middleware"
	"github.com/itou-labs/nexus-sync/internal/nexus/token"
)

// remoteUserHeader carries the email of the user authenticated by the
// reverse proxy in front of serve.
const remoteUserHeader = "X-Remote-User"

// session holds the handlers mounted under /session. autoLogin is nil
// without token.key and dropdown is nil without api.base_url.
type session struct {
	identify  gin.HandlerFunc
	autoLogin *middleware.AutoLogin
	dropdown  *middleware.Dropdown
}

func (a *app) session(cfg *config.Config) (*session, error) {
	s := &session{identify: identify(a.findUser)}

	if cfg.Token.Key != "" {
		iss, err := token.NewIssuer([]byte(cfg.Token.Key), cfg.Token.Expiry, nil)
		if err != nil {
			return nil, err
		}
		s.autoLogin = &middleware.AutoLogin{
			Tokens:   iss,
			FindUser: a.findUser,
			Logout: func(c *gin.Context) {
				c.Set(middleware.UserKey, (*middleware.Identity)(nil))
			},
			AuthorizeURL: func(user *middleware.Identity, next string) string {
				return withQuery(cfg.Server.AuthorizeURL, url.Values{"login_hint": {user.Email}, "next": {next}})
			},
			NoUserURL: func(email, next string) string {
				return withQuery(cfg.Server.NoUserURL, url.Values{"email": {email}, "next": {next}})
			},
		}
	}

	if a.client != nil {
		s.dropdown = middleware.NewDropdown(a.client, cfg.Dropdown.TTL, nil)
	}
	return s, nil
}

// findUser looks a user up by email. It returns nil, nil when there is none.
func (a *app) findUser(ctx context.Context, email string) (*middleware.Identity, error) {
	var id *middleware.Identity
	err := a.store.Atomic(ctx, func(tx *db.Tx) error {
		users, err := tx.Users().Where("t.email = ?", email).All(ctx)
		if err != nil || len(users) == 0 {
			return err
		}
		u := users[0]
		syncable, err := u.ShouldSyncRemotely()
		if err != nil {
			return err
		}
		id = &middleware.Identity{ID: u.SyncID(), Email: u.Email, Syncable: syncable}
		return nil
	})
	return id, err
}

// identify stores the user named by remoteUserHeader under middleware.UserKey.
func identify(find func(ctx context.Context, email string) (*middleware.Identity, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		email := c.GetHeader(remoteUserHeader)
		if email == "" {
			c.Next()
			return
		}
		user, err := find(c.Request.Context(), email)
		if err != nil {
			_ = c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		if user != nil {
			c.Set(middleware.UserKey, user)
		}
		c.Next()
	}
}

func (s *session) mount(router *gin.Engine) {
	group := router.Group("/session", s.identify)
	if s.autoLogin != nil {
		group.Use(s.autoLogin.Handler())
	}
	if s.dropdown != nil {
		group.Use(s.dropdown.Handler())
	}

	group.GET("/dropdown", func(c *gin.Context) {
		v, ok := c.Get(middleware.DropdownKey)
		if !ok {
			c.JSON(http.StatusOK, gin.H{})
			return
		}
		status, _ := v.(map[string]any)
		if status == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dropdown status unavailable"})
			return
		}
		c.JSON(http.StatusOK, status)
	})
}

func withQuery(base string, q url.Values) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode()
}
