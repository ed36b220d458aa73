package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const autoLoginParam = "auto_login"

// Verifier decrypts auto-login tokens. *token.Issuer implements it.
type Verifier interface {
	Verify(token string) (map[string]any, error)
}

// AutoLogin turns an "auto_login" query parameter into a login flow.
//
// The parameter is always stripped by redirecting to the same URL without
// it. When the token names a known user who is not already logged in, the
// redirect goes to AuthorizeURL instead; unknown users go to NoUserURL.
type AutoLogin struct {
	Tokens Verifier
	// FindUser returns nil, nil when no user has that email.
	FindUser     func(ctx context.Context, email string) (*Identity, error)
	Logout       func(c *gin.Context)
	AuthorizeURL func(user *Identity, next string) string
	NoUserURL    func(email, next string) string
	Logger       *zap.SugaredLogger
}

// Handler returns the gin middleware.
func (a *AutoLogin) Handler() gin.HandlerFunc {
	log := a.Logger
	if log == nil {
		log = zap.S()
	}
	log = log.Named("autologin")

	return func(c *gin.Context) {
		query := c.Request.URL.Query()
		tokens, ok := query[autoLoginParam]
		if !ok {
			c.Next()
			return
		}

		query.Del(autoLoginParam)
		next := c.Request.URL.Path
		if len(query) > 0 {
			next += "?" + query.Encode()
		}
		redirect := func(url string) {
			c.Redirect(http.StatusFound, url)
			c.Abort()
		}

		if len(tokens) != 1 {
			log.Info("Nexus auto login: Multiple tokens found -> ignored")
			redirect(next)
			return
		}

		var email string
		if claims, err := a.Tokens.Verify(tokens[0]); err != nil {
			log.Info("Invalid auto login token")
		} else {
			email, _ = claims["email"].(string)
		}
		if email == "" {
			log.Info("Nexus auto login: Missing email in token -> ignored")
			redirect(next)
			return
		}

		if current, ok := CurrentUser(c); ok {
			if current.Email == email {
				log.Info("Nexus auto login: user is already logged in")
				redirect(next)
				return
			}
			log.Info("Nexus auto login: wrong user is logged in -> logging them out")
			if a.Logout != nil {
				a.Logout(c)
			}
		}

		user, err := a.FindUser(c.Request.Context(), email)
		if err != nil {
			_ = c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		if user == nil {
			log.Infow("Nexus auto login: no user found", "email", email)
			redirect(a.NoUserURL(email, next))
			return
		}
		log.Infow("Nexus auto login: user found, forwarding to authorization", "user", user.ID)
		redirect(a.AuthorizeURL(user, next))
	}
}
