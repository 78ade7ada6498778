package token

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haitnmt/Haihv.Identities/internal/cache"
	"github.com/haitnmt/Haihv.Identities/internal/domain"
	apperrors "github.com/haitnmt/Haihv.Identities/pkg/errors"
)

const (
	testSecret   = "test-secret-key-that-is-long-enough"
	testIssuer   = "identity-gateway"
	testAudience = "identity-clients"
)

func setupProvider(t *testing.T) *Provider {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewProvider(cache.New(client), testSecret, testIssuer, testAudience, 25*time.Minute, 168*time.Hour)
}

func sampleUser() *domain.User {
	return &domain.User{
		ID:                uuid.New(),
		SamAccountName:    "jdoe",
		UserPrincipalName: "jdoe@corp.example.com",
		DistinguishedName: "CN=John Doe,OU=Staff,DC=corp,DC=example,DC=com",
		DisplayName:       "John Doe",
		Email:             "jdoe@corp.example.com",
	}
}

func TestAccessToken_RoundTrip(t *testing.T) {
	p := setupProvider(t)
	ctx := context.Background()

	signed, err := p.IssueAccessToken(ctx, sampleUser())
	require.NoError(t, err)

	claims, err := p.VerifyAccessToken(ctx, signed)
	require.NoError(t, err)
	assert.Equal(t, "jdoe", claims.SamAccountName)
	assert.Equal(t, "jdoe@corp.example.com", claims.UserPrincipalName)
	assert.Equal(t, "CN=John Doe,OU=Staff,DC=corp,DC=example,DC=com", claims.DistinguishedName)
	assert.NotEmpty(t, claims.ID)
}

func TestVerifyAccessToken_Garbage(t *testing.T) {
	p := setupProvider(t)

	_, err := p.VerifyAccessToken(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestVerifyAccessToken_WrongSignature(t *testing.T) {
	p := setupProvider(t)
	other := jwt.NewWithClaims(jwt.SigningMethodHS256, &AccessClaims{
		SamAccountName: "jdoe",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{testAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	forged, err := other.SignedString([]byte("a-different-signing-secret!!"))
	require.NoError(t, err)

	_, err = p.VerifyAccessToken(context.Background(), forged)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestVerifyAccessToken_Expired(t *testing.T) {
	p := setupProvider(t)
	stale := jwt.NewWithClaims(jwt.SigningMethodHS256, &AccessClaims{
		SamAccountName: "jdoe",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{testAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err := stale.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = p.VerifyAccessToken(context.Background(), signed)
	assert.ErrorIs(t, err, apperrors.ErrTokenExpired)
}

func TestVerifyAccessToken_RevokedMarkerGone(t *testing.T) {
	p := setupProvider(t)
	ctx := context.Background()

	signed, err := p.IssueAccessToken(ctx, sampleUser())
	require.NoError(t, err)

	_, err = p.Revoke(ctx, signed, false)
	require.NoError(t, err)

	// Signature still checks out but the marker is gone.
	_, err = p.VerifyAccessToken(ctx, signed)
	assert.ErrorIs(t, err, apperrors.ErrTokenExpired)
}

func TestRefreshToken_Rotation(t *testing.T) {
	p := setupProvider(t)
	ctx := context.Background()

	original, expiry, err := p.IssueRefreshToken(ctx, "jdoe")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(168*time.Hour), expiry, time.Minute)

	rotated, _, account, err := p.VerifyAndRotateRefreshToken(ctx, original)
	require.NoError(t, err)
	assert.Equal(t, "jdoe", account)
	assert.NotEqual(t, original, rotated)

	// The spent token no longer works.
	_, _, _, err = p.VerifyAndRotateRefreshToken(ctx, original)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)

	// The replacement does.
	_, _, account, err = p.VerifyAndRotateRefreshToken(ctx, rotated)
	require.NoError(t, err)
	assert.Equal(t, "jdoe", account)
}

func TestRefreshToken_ConcurrentRotation_SingleWinner(t *testing.T) {
	p := setupProvider(t)
	ctx := context.Background()

	original, _, err := p.IssueRefreshToken(ctx, "jdoe")
	require.NoError(t, err)

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, _, errs[i] = p.VerifyAndRotateRefreshToken(ctx, original)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestRefreshToken_ExpiredFailsFast(t *testing.T) {
	p := setupProvider(t)
	stale := jwt.NewWithClaims(jwt.SigningMethodHS256, &RefreshClaims{
		SamAccountName: "jdoe",
		Secret:         "whatever",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{testAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err := stale.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, _, _, err = p.VerifyAndRotateRefreshToken(context.Background(), signed)
	assert.ErrorIs(t, err, apperrors.ErrTokenExpired)
}

func TestRevoke_AllSessions(t *testing.T) {
	p := setupProvider(t)
	ctx := context.Background()
	user := sampleUser()

	access1, err := p.IssueAccessToken(ctx, user)
	require.NoError(t, err)
	access2, err := p.IssueAccessToken(ctx, user)
	require.NoError(t, err)
	refresh, _, err := p.IssueRefreshToken(ctx, user.SamAccountName)
	require.NoError(t, err)

	account, err := p.Revoke(ctx, refresh, true)
	require.NoError(t, err)
	assert.Equal(t, "jdoe", account)

	_, err = p.VerifyAccessToken(ctx, access1)
	assert.ErrorIs(t, err, apperrors.ErrTokenExpired)
	_, err = p.VerifyAccessToken(ctx, access2)
	assert.ErrorIs(t, err, apperrors.ErrTokenExpired)
	_, _, _, err = p.VerifyAndRotateRefreshToken(ctx, refresh)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestRevoke_SingleSessionLeavesOthers(t *testing.T) {
	p := setupProvider(t)
	ctx := context.Background()
	user := sampleUser()

	session1, err := p.IssueAccessToken(ctx, user)
	require.NoError(t, err)
	session2, err := p.IssueAccessToken(ctx, user)
	require.NoError(t, err)

	_, err = p.Revoke(ctx, session1, false)
	require.NoError(t, err)

	_, err = p.VerifyAccessToken(ctx, session1)
	assert.ErrorIs(t, err, apperrors.ErrTokenExpired)
	_, err = p.VerifyAccessToken(ctx, session2)
	assert.NoError(t, err)
}

func TestRevoke_AcceptsExpiredToken(t *testing.T) {
	p := setupProvider(t)
	stale := jwt.NewWithClaims(jwt.SigningMethodHS256, &RefreshClaims{
		SamAccountName: "jdoe",
		Secret:         "s",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{testAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	signed, err := stale.SignedString([]byte(testSecret))
	require.NoError(t, err)

	account, err := p.Revoke(context.Background(), signed, false)
	assert.NoError(t, err)
	assert.Equal(t, "jdoe", account)
}
