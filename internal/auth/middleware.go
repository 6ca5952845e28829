package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// CookieName is the session cookie holding the signed token.
const CookieName = "session"

const claimsKey = "session_claims"

// Sessions issues and reads session tokens carried in a cookie or a bearer header.
type Sessions struct {
	Key    string
	Issuer string
	TTL    time.Duration
	Secure bool
}

// Middleware attaches valid session claims to the request. Requests without
// a valid session pass through anonymously; guards decide what to allow.
func (s Sessions) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenStr := token(c); tokenStr != "" {
			if claims, err := Parse(tokenStr, s.Key, s.Issuer); err == nil {
				c.Set(claimsKey, claims)
			}
		}
		c.Next()
	}
}

// Start issues a session for subject and sets the cookie. The token is also
// returned for non-browser clients.
func (s Sessions) Start(c *gin.Context, subject, role string) (string, error) {
	tok, exp, err := Issue(subject, role, s.Issuer, s.Key, s.TTL)
	if err != nil {
		return "", err
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     CookieName,
		Value:    tok,
		Path:     "/",
		Expires:  exp,
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return tok, nil
}

// End clears the session cookie.
func (s Sessions) End(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClaimsFrom returns the claims attached by Middleware.
func ClaimsFrom(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}

func token(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if authz != "" && strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	if v, err := c.Cookie(CookieName); err == nil {
		return v
	}
	return ""
}
