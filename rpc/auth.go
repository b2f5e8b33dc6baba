package rpc

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// WriteScope is required on bearer tokens for mutating methods.
const WriteScope = "factoring:write"

// Authenticator validates HS256 bearer tokens.
type Authenticator struct {
	secret    []byte
	issuer    string
	clockSkew time.Duration
}

// NewAuthenticator returns nil when secret is empty, which disables bearer
// authentication.
func NewAuthenticator(secret, issuer string) *Authenticator {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil
	}
	return &Authenticator{secret: []byte(trimmed), issuer: strings.TrimSpace(issuer), clockSkew: 2 * time.Minute}
}

// Authorize checks the Authorization header value and the required scope.
func (a *Authenticator) Authorize(header, scope string) error {
	if a == nil {
		return nil
	}
	tokenString := extractBearer(header)
	if tokenString == "" {
		return errors.New("missing bearer token")
	}
	claims, err := a.parseToken(tokenString)
	if err != nil {
		return errors.New("invalid token")
	}
	if a.issuer != "" {
		if value, ok := claims["iss"].(string); !ok || value != a.issuer {
			return errors.New("invalid token")
		}
	}
	if scope != "" && !hasScope(extractScopes(claims), scope) {
		return errors.New("insufficient scope")
	}
	return nil
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.clockSkew), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

// IssueToken signs a token carrying scope. Operators use it through
// factoringctl; tests use it directly.
func IssueToken(secret, issuer, subject, scope string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   subject,
		"scope": scope,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(secret)))
}

func extractScopes(claims jwt.MapClaims) []string {
	raw, ok := claims["scope"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func hasScope(scopes []string, required string) bool {
	for _, scope := range scopes {
		if scope == required {
			return true
		}
	}
	return false
}

func extractBearer(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
