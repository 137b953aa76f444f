package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoSessionToken = errors.New("no session token presented")

// SessionClaims is the token issued by the session system after login.
type SessionClaims struct {
	jwt.RegisteredClaims
}

// SessionVerifier validates HMAC-signed session tokens.
type SessionVerifier struct {
	secret     []byte
	cookieName string
}

func NewSessionVerifier(secret, cookieName string) *SessionVerifier {
	return &SessionVerifier{secret: []byte(secret), cookieName: cookieName}
}

// TokenFromRequest looks for a token in the session cookie, the
// Authorization header and the "token" query parameter, in that order.
func (v *SessionVerifier) TokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(v.cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// Subject validates tokenString and returns its "sub" claim.
func (v *SessionVerifier) Subject(tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrNoSessionToken
	}
	if len(v.secret) == 0 {
		return "", errors.New("session verification is not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid session token: %w", err)
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || claims.Subject == "" {
		return "", errors.New("session token missing 'sub' claim")
	}
	return claims.Subject, nil
}

// Sign issues a token for userID. The session system owns issuance in
// production; this is used by tooling and tests.
func (v *SessionVerifier) Sign(userID string) (string, error) {
	claims := SessionClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: userID}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
