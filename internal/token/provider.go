// Package token mints, verifies, rotates and revokes the gateway's
// session tokens. Access tokens are signed JWTs paired with a cache
// marker, so a token is only good while both the signature and the
// marker hold. Refresh tokens additionally carry an opaque secret that
// must match the cached copy, making each refresh token single-use.
package token

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/haitnmt/Haihv.Identities/internal/cache"
	"github.com/haitnmt/Haihv.Identities/internal/domain"
	apperrors "github.com/haitnmt/Haihv.Identities/pkg/errors"
)

// refreshSecretLen is the byte length of the random refresh secret.
const refreshSecretLen = 64

// AccessClaims are the claims carried by an access token.
type AccessClaims struct {
	SamAccountName    string `json:"sam_account_name"`
	UserPrincipalName string `json:"user_principal_name"`
	DistinguishedName string `json:"distinguished_name"`
	DisplayName       string `json:"display_name"`
	Email             string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims are the claims carried by a refresh token. Secret is a
// random value that must match the cached copy when the token is spent.
type RefreshClaims struct {
	SamAccountName string `json:"sam_account_name"`
	Secret         string `json:"secret"`
	jwt.RegisteredClaims
}

// Provider issues and verifies the gateway's tokens.
type Provider struct {
	cache      *cache.TaggedCache
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewProvider creates a token provider signing with the given secret.
func NewProvider(c *cache.TaggedCache, secret, issuer, audience string, accessTTL, refreshTTL time.Duration) *Provider {
	return &Provider{
		cache:      c,
		secret:     []byte(secret),
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// IssueAccessToken signs an access token for user and plants its cache
// marker. The marker is tagged with both the account and the token id,
// so it can be revoked alone or together with the whole session family.
func (p *Provider) IssueAccessToken(ctx context.Context, user *domain.User) (string, error) {
	now := time.Now().UTC()
	jti := uuid.Must(uuid.NewV7()).String()
	claims := &AccessClaims{
		SamAccountName:    user.SamAccountName,
		UserPrincipalName: user.UserPrincipalName,
		DistinguishedName: user.DistinguishedName,
		DisplayName:       user.DisplayName,
		Email:             user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   user.SamAccountName,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.accessTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}

	key := cache.AccessTokenKey(user.SamAccountName, jti)
	if err := p.cache.Set(ctx, key, []byte("1"), p.accessTTL, user.SamAccountName, jti); err != nil {
		return "", fmt.Errorf("store access marker: %w", err)
	}
	return signed, nil
}

// IssueRefreshToken signs a refresh token for account and stores its
// opaque secret. Returns the token and its expiry for cookie handling.
func (p *Provider) IssueRefreshToken(ctx context.Context, account string) (string, time.Time, error) {
	buf := make([]byte, refreshSecretLen)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, fmt.Errorf("generate refresh secret: %w", err)
	}
	secret := base64.StdEncoding.EncodeToString(buf)

	now := time.Now().UTC()
	expiry := now.Add(p.refreshTTL)
	jti := uuid.Must(uuid.NewV7()).String()
	claims := &RefreshClaims{
		SamAccountName: account,
		Secret:         secret,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   account,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}

	key := cache.RefreshTokenKey(account, jti)
	if err := p.cache.Set(ctx, key, []byte(secret), p.refreshTTL, account, jti); err != nil {
		return "", time.Time{}, fmt.Errorf("store refresh secret: %w", err)
	}
	return signed, expiry, nil
}

// VerifyAccessToken checks both the signature and the cache marker. A
// structurally valid token whose marker is gone was revoked and is
// reported as expired.
func (p *Provider) VerifyAccessToken(ctx context.Context, tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := p.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.SamAccountName == "" || claims.ID == "" {
		return nil, apperrors.InvalidToken("missing required claims")
	}

	_, err := p.cache.Get(ctx, cache.AccessTokenKey(claims.SamAccountName, claims.ID))
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, apperrors.TokenExpired()
		}
		return nil, err
	}
	return claims, nil
}

// VerifyAndRotateRefreshToken spends a refresh token and issues its
// replacement. The cached secret is consumed atomically, so of any
// number of concurrent calls with the same token exactly one wins.
// Returns the new token, its expiry and the account it belongs to.
func (p *Provider) VerifyAndRotateRefreshToken(ctx context.Context, tokenString string) (string, time.Time, string, error) {
	claims := &RefreshClaims{}
	if err := p.parse(tokenString, claims); err != nil {
		return "", time.Time{}, "", err
	}
	if claims.SamAccountName == "" || claims.ID == "" || claims.Secret == "" {
		return "", time.Time{}, "", apperrors.InvalidToken("missing required claims")
	}

	account := claims.SamAccountName
	cached, err := p.cache.GetDel(ctx, cache.RefreshTokenKey(account, claims.ID))
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			// Already spent or revoked. Reuse of a rotated token is
			// indistinguishable from theft, so it fails hard.
			return "", time.Time{}, "", apperrors.InvalidToken("refresh token already used or revoked")
		}
		return "", time.Time{}, "", err
	}
	if subtle.ConstantTimeCompare(cached, []byte(claims.Secret)) != 1 {
		return "", time.Time{}, "", apperrors.InvalidToken("refresh secret mismatch")
	}

	// Drop the spent token's tag set and any access token it anchored.
	if err := p.cache.RemoveByTag(ctx, claims.ID); err != nil {
		return "", time.Time{}, "", err
	}

	newToken, expiry, err := p.IssueRefreshToken(ctx, account)
	if err != nil {
		return "", time.Time{}, "", err
	}
	return newToken, expiry, account, nil
}

// Revoke invalidates the session the token belongs to and returns the
// account it acted on. With all set, every cached entry of the account
// goes, ending all of its sessions. Expired tokens are still accepted
// here so a stale client can log out.
func (p *Provider) Revoke(ctx context.Context, tokenString string, all bool) (string, error) {
	claims := &RefreshClaims{}
	if err := p.parseLenient(tokenString, claims); err != nil {
		return "", err
	}
	if claims.SamAccountName == "" || claims.ID == "" {
		return "", apperrors.InvalidToken("missing required claims")
	}

	if all {
		return claims.SamAccountName, p.cache.RemoveByTag(ctx, claims.SamAccountName)
	}
	return claims.SamAccountName, p.cache.RemoveByTag(ctx, claims.ID)
}

// parse verifies the signature and the registered claims.
func (p *Provider) parse(tokenString string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(tokenString, claims, p.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return apperrors.TokenExpired()
		}
		return apperrors.InvalidToken("token verification failed")
	}
	return nil
}

// parseLenient verifies the signature but tolerates expired claims.
func (p *Provider) parseLenient(tokenString string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(tokenString, claims, p.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return apperrors.InvalidToken("token verification failed")
	}
	return nil
}

func (p *Provider) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return p.secret, nil
}
