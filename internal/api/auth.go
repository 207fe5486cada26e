package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	jwt "github.com/golang-jwt/jwt/v5"
)

// RoleService marks a JWT issued to a backend service. It may act on any
// athlete and follow the full event feed.
const RoleService = "service"

// TokenHeader carries the static token as an alternative to a bearer header.
const TokenHeader = "X-Progression-Token"

// Authenticator accepts either the static operator token or an HS256 JWT
// whose subject is the athlete being addressed. With neither configured
// every request is allowed.
type Authenticator struct {
	token     string
	secret    []byte
	clockSkew time.Duration
}

func NewAuthenticator(staticToken, jwtSecret string) *Authenticator {
	return &Authenticator{
		token:     strings.TrimSpace(staticToken),
		secret:    []byte(strings.TrimSpace(jwtSecret)),
		clockSkew: 2 * time.Minute,
	}
}

// Enabled reports whether any credential is required.
func (a *Authenticator) Enabled() bool {
	return a.token != "" || len(a.secret) > 0
}

// Authorize reports whether r may act on userID. An empty userID means
// every athlete and needs the static token or a service role.
func (a *Authenticator) Authorize(r *http.Request, userID string) bool {
	if !a.Enabled() {
		return true
	}
	tok := extractToken(r)
	if tok == "" {
		return false
	}
	if a.token != "" && subtle.ConstantTimeCompare([]byte(tok), []byte(a.token)) == 1 {
		return true
	}
	if len(a.secret) == 0 {
		return false
	}

	claims, err := a.parseToken(tok)
	if err != nil {
		return false
	}
	if role, _ := claims["role"].(string); role == RoleService {
		return true
	}
	sub, err := claims.GetSubject()
	return err == nil && userID != "" && sub == userID
}

// Middleware guards routes that carry a {userID} path parameter.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Authorize(r, chi.URLParam(r, "userID")) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.clockSkew), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func extractToken(r *http.Request) string {
	if v := r.URL.Query().Get("token"); v != "" {
		return v
	}
	if v := r.Header.Get(TokenHeader); v != "" {
		return v
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}
