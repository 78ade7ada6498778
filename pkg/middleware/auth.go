package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKeyType string

const (
	accountNameKey       contextKeyType = "account_name"
	distinguishedNameKey contextKeyType = "distinguished_name"
	principalNameKey     contextKeyType = "principal_name"
)

// Claims represents the identity extracted from a verified access token.
type Claims struct {
	AccountName       string `json:"account_name"`
	DistinguishedName string `json:"distinguished_name"`
	UserPrincipalName string `json:"user_principal_name"`
	DisplayName       string `json:"display_name"`
	Email             string `json:"email"`
}

// TokenValidator is a function that verifies a bearer token and returns the
// identity it carries. The gateway injects its own verification logic, which
// checks both the signature and the revocation marker.
type TokenValidator func(ctx context.Context, token string) (*Claims, error)

// Auth middleware validates bearer tokens and injects identity claims into
// context.
func Auth(validate TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				writeAuthError(w, "missing authorization header")
				return
			}

			claims, err := validate(r.Context(), token)
			if err != nil {
				writeAuthError(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), accountNameKey, claims.AccountName)
			ctx = context.WithValue(ctx, distinguishedNameKey, claims.DistinguishedName)
			ctx = context.WithValue(ctx, principalNameKey, claims.UserPrincipalName)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from the Authorization header. Returns ""
// when the header is absent or not a bearer scheme.
func BearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// AccountFromContext extracts the account name from the request context.
func AccountFromContext(ctx context.Context) string {
	if a, ok := ctx.Value(accountNameKey).(string); ok {
		return a
	}
	return ""
}

// DistinguishedNameFromContext extracts the DN from the request context.
func DistinguishedNameFromContext(ctx context.Context) string {
	if dn, ok := ctx.Value(distinguishedNameKey).(string); ok {
		return dn
	}
	return ""
}

// PrincipalNameFromContext extracts the userPrincipalName from the request context.
func PrincipalNameFromContext(ctx context.Context) string {
	if upn, ok := ctx.Value(principalNameKey).(string); ok {
		return upn
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    "UNAUTHORIZED",
		"message": message,
	})
}
