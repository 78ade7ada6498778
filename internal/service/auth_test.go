package service

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/haitnmt/Haihv.Identities/internal/cache"
	"github.com/haitnmt/Haihv.Identities/internal/domain"
	"github.com/haitnmt/Haihv.Identities/internal/throttle"
	"github.com/haitnmt/Haihv.Identities/internal/token"
	apperrors "github.com/haitnmt/Haihv.Identities/pkg/errors"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) Authenticate(ctx context.Context, principalName, password string) error {
	args := m.Called(ctx, principalName, password)
	return args.Error(0)
}

func (m *mockDirectory) FindUser(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if u := args.Get(0); u != nil {
		return u.(*domain.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDirectory) NormalizeAccount(username string) string {
	if i := strings.Index(username, "@"); i >= 0 {
		return username[:i]
	}
	return username
}

type mockTokens struct {
	mock.Mock
}

func (m *mockTokens) IssueAccessToken(ctx context.Context, user *domain.User) (string, error) {
	args := m.Called(ctx, user)
	return args.String(0), args.Error(1)
}

func (m *mockTokens) IssueRefreshToken(ctx context.Context, account string) (string, time.Time, error) {
	args := m.Called(ctx, account)
	return args.String(0), args.Get(1).(time.Time), args.Error(2)
}

func (m *mockTokens) VerifyAccessToken(ctx context.Context, tokenString string) (*token.AccessClaims, error) {
	args := m.Called(ctx, tokenString)
	if c := args.Get(0); c != nil {
		return c.(*token.AccessClaims), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTokens) VerifyAndRotateRefreshToken(ctx context.Context, tokenString string) (string, time.Time, string, error) {
	args := m.Called(ctx, tokenString)
	return args.String(0), args.Get(1).(time.Time), args.String(2), args.Error(3)
}

func (m *mockTokens) Revoke(ctx context.Context, tokenString string, all bool) (string, error) {
	args := m.Called(ctx, tokenString, all)
	return args.String(0), args.Error(1)
}

type mockGroups struct {
	mock.Mock
}

func (m *mockGroups) CheckMembership(ctx context.Context, account, principalDN, groupName string, refresh bool) (bool, error) {
	args := m.Called(ctx, account, principalDN, groupName, refresh)
	return args.Bool(0), args.Error(1)
}

func (m *mockGroups) WarmCache(account, principalDN string) {
	m.Called(account, principalDN)
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

const (
	publicIP = "203.0.113.7"
)

func testConfig() Config {
	return Config{
		MaxAttempts:              3,
		MaxAttemptsPerDay:        10,
		RefreshMaxAttempts:       10,
		RefreshMaxAttemptsPerDay: 30,
		UserCacheTTL:             24 * time.Hour,
		NotFoundTTL:              5 * time.Minute,
	}
}

type fixture struct {
	svc    *AuthService
	dir    *mockDirectory
	tokens *mockTokens
	groups *mockGroups
}

func setupService(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.DiscardHandler)
	c := cache.New(client)
	dir := &mockDirectory{}
	tokens := &mockTokens{}
	groups := &mockGroups{}
	svc := NewAuthService(dir, tokens, throttle.New(c, 300*time.Second, logger), groups, c, nil, testConfig(), logger)
	return &fixture{svc: svc, dir: dir, tokens: tokens, groups: groups}
}

func directoryUser() *domain.User {
	return &domain.User{
		ID:                uuid.New(),
		SamAccountName:    "jdoe",
		UserPrincipalName: "jdoe@corp.example.com",
		DistinguishedName: "CN=John Doe,OU=Staff,DC=corp,DC=example,DC=com",
		DisplayName:       "John Doe",
	}
}

// ---------------------------------------------------------------------------
// Login
// ---------------------------------------------------------------------------

func TestLogin_Success(t *testing.T) {
	f := setupService(t)
	user := directoryUser()
	f.dir.On("FindUser", mock.Anything, "jdoe").Return(user, nil)
	f.dir.On("Authenticate", mock.Anything, "jdoe@corp.example.com", "hunter2").Return(nil)
	f.tokens.On("IssueAccessToken", mock.Anything, user).Return("access-token", nil)
	f.groups.On("WarmCache", "jdoe", user.DistinguishedName).Return()

	result, err := f.svc.Login(context.Background(), LoginInput{
		Username: "jdoe",
		Password: "hunter2",
		ClientIP: publicIP,
	})
	require.NoError(t, err)
	assert.Equal(t, "access-token", result.AccessToken)
	assert.Empty(t, result.RefreshToken, "no refresh token without remember me")
	f.groups.AssertCalled(t, "WarmCache", "jdoe", user.DistinguishedName)
}

func TestLogin_RememberMeIssuesRefreshToken(t *testing.T) {
	f := setupService(t)
	user := directoryUser()
	expiry := time.Now().Add(168 * time.Hour)
	f.dir.On("FindUser", mock.Anything, "jdoe").Return(user, nil)
	f.dir.On("Authenticate", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.tokens.On("IssueAccessToken", mock.Anything, user).Return("access-token", nil)
	f.tokens.On("IssueRefreshToken", mock.Anything, "jdoe").Return("refresh-token", expiry, nil)
	f.groups.On("WarmCache", mock.Anything, mock.Anything).Return()

	result, err := f.svc.Login(context.Background(), LoginInput{
		Username:   "jdoe",
		Password:   "hunter2",
		RememberMe: true,
		ClientIP:   publicIP,
	})
	require.NoError(t, err)
	assert.Equal(t, "refresh-token", result.RefreshToken)
	assert.WithinDuration(t, expiry, result.RefreshExpiry, time.Second)
}

func TestLogin_WrongPassword_CountsDownThenLocks(t *testing.T) {
	f := setupService(t)
	user := directoryUser()
	f.dir.On("FindUser", mock.Anything, "jdoe").Return(user, nil)
	f.dir.On("Authenticate", mock.Anything, mock.Anything, mock.Anything).
		Return(apperrors.ErrAuthenticationFailed)

	ctx := context.Background()
	in := LoginInput{Username: "jdoe", Password: "wrong", ClientIP: publicIP}

	// Three free attempts with a shrinking hint.
	for want := 2; want >= 0; want-- {
		_, err := f.svc.Login(ctx, in)
		require.ErrorIs(t, err, apperrors.ErrAuthenticationFailed)
		var appErr *apperrors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.EqualValues(t, want, appErr.Meta["remaining_attempts"])
	}

	// Fourth failure starts the backoff.
	_, err := f.svc.Login(ctx, in)
	require.ErrorIs(t, err, apperrors.ErrAuthenticationFailed)

	// The IP is now locked before credentials are even looked at.
	_, err = f.svc.Login(ctx, in)
	require.ErrorIs(t, err, apperrors.ErrIPLocked)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Positive(t, appErr.Meta["retry_after_seconds"])
}

func TestLogin_TrustedIP_NeverLocks(t *testing.T) {
	f := setupService(t)
	user := directoryUser()
	f.dir.On("FindUser", mock.Anything, "jdoe").Return(user, nil)
	f.dir.On("Authenticate", mock.Anything, mock.Anything, mock.Anything).
		Return(apperrors.ErrAuthenticationFailed)

	ctx := context.Background()
	in := LoginInput{Username: "jdoe", Password: "wrong", ClientIP: "10.0.0.5", TrustedIP: true}

	for i := 0; i < 10; i++ {
		_, err := f.svc.Login(ctx, in)
		require.ErrorIs(t, err, apperrors.ErrAuthenticationFailed)
		var appErr *apperrors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.NotContains(t, appErr.Meta, "remaining_attempts", "trusted callers get no attempt hint")
	}
}

func TestLogin_UnknownUser_NegativeCached(t *testing.T) {
	f := setupService(t)
	f.dir.On("FindUser", mock.Anything, "ghost").Return(nil, nil).Once()

	ctx := context.Background()
	in := LoginInput{Username: "ghost", Password: "x", ClientIP: publicIP}

	_, err := f.svc.Login(ctx, in)
	require.ErrorIs(t, err, apperrors.ErrAuthenticationFailed)

	// Second attempt is answered from the negative cache.
	_, err = f.svc.Login(ctx, in)
	require.ErrorIs(t, err, apperrors.ErrAuthenticationFailed)
	f.dir.AssertNumberOfCalls(t, "FindUser", 1)
}

func TestLogin_UnknownUser_SameShapeAsWrongPassword(t *testing.T) {
	f := setupService(t)
	f.dir.On("FindUser", mock.Anything, "ghost").Return(nil, nil)

	_, err := f.svc.Login(context.Background(), LoginInput{Username: "ghost", Password: "x", ClientIP: publicIP})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "AUTHENTICATION_FAILED", appErr.Code)
	assert.Equal(t, "invalid username or password", appErr.Message)
	// The distinction survives internally for logs only.
	assert.ErrorIs(t, err, apperrors.ErrUserNotFound)
}

func TestLogin_DirectoryDown_NoLockIncrement(t *testing.T) {
	f := setupService(t)
	user := directoryUser()
	f.dir.On("FindUser", mock.Anything, "jdoe").Return(user, nil)
	f.dir.On("Authenticate", mock.Anything, mock.Anything, mock.Anything).
		Return(apperrors.DirectoryUnavailable(assert.AnError))

	ctx := context.Background()
	in := LoginInput{Username: "jdoe", Password: "hunter2", ClientIP: publicIP}

	for i := 0; i < 5; i++ {
		_, err := f.svc.Login(ctx, in)
		require.ErrorIs(t, err, apperrors.ErrDirectoryUnavailable)
	}

	// An outage must not burn the caller's attempt budget.
	_, err := f.svc.Login(ctx, in)
	assert.NotErrorIs(t, err, apperrors.ErrIPLocked)
}

func TestLogin_SecondLoginServedFromUserCache(t *testing.T) {
	f := setupService(t)
	user := directoryUser()
	f.dir.On("FindUser", mock.Anything, "jdoe").Return(user, nil).Once()
	f.dir.On("Authenticate", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.tokens.On("IssueAccessToken", mock.Anything, mock.Anything).Return("access-token", nil)
	f.groups.On("WarmCache", mock.Anything, mock.Anything).Return()

	ctx := context.Background()
	in := LoginInput{Username: "jdoe", Password: "hunter2", ClientIP: publicIP}

	_, err := f.svc.Login(ctx, in)
	require.NoError(t, err)
	_, err = f.svc.Login(ctx, in)
	require.NoError(t, err)
	f.dir.AssertNumberOfCalls(t, "FindUser", 1)
}

// ---------------------------------------------------------------------------
// Refresh
// ---------------------------------------------------------------------------

func TestRefresh_Success(t *testing.T) {
	f := setupService(t)
	user := directoryUser()
	expiry := time.Now().Add(168 * time.Hour)
	f.tokens.On("VerifyAndRotateRefreshToken", mock.Anything, "old-refresh").
		Return("new-refresh", expiry, "jdoe", nil)
	f.dir.On("FindUser", mock.Anything, "jdoe").Return(user, nil)
	f.tokens.On("IssueAccessToken", mock.Anything, user).Return("new-access", nil)

	result, err := f.svc.Refresh(context.Background(), RefreshInput{
		RefreshToken: "old-refresh",
		ClientIP:     publicIP,
	})
	require.NoError(t, err)
	assert.Equal(t, "jdoe", result.Account)
	assert.Equal(t, "new-access", result.AccessToken)
	assert.Equal(t, "new-refresh", result.RefreshToken)
}

func TestRefresh_MissingToken(t *testing.T) {
	f := setupService(t)

	_, err := f.svc.Refresh(context.Background(), RefreshInput{ClientIP: publicIP})
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestRefresh_InvalidToken_LocksEventually(t *testing.T) {
	f := setupService(t)
	f.tokens.On("VerifyAndRotateRefreshToken", mock.Anything, "forged").
		Return("", time.Time{}, "", apperrors.InvalidToken("refresh token already used or revoked"))

	ctx := context.Background()
	in := RefreshInput{RefreshToken: "forged", ClientIP: publicIP}

	// The refresh path tolerates ten free failures.
	for i := 0; i < 11; i++ {
		_, err := f.svc.Refresh(ctx, in)
		require.ErrorIs(t, err, apperrors.ErrInvalidToken)
	}

	_, err := f.svc.Refresh(ctx, in)
	assert.ErrorIs(t, err, apperrors.ErrIPLocked)
}

func TestRefresh_ExpiredToken_NoLockIncrement(t *testing.T) {
	f := setupService(t)
	f.tokens.On("VerifyAndRotateRefreshToken", mock.Anything, "stale").
		Return("", time.Time{}, "", apperrors.TokenExpired())

	ctx := context.Background()
	in := RefreshInput{RefreshToken: "stale", ClientIP: publicIP}

	for i := 0; i < 15; i++ {
		_, err := f.svc.Refresh(ctx, in)
		require.ErrorIs(t, err, apperrors.ErrTokenExpired)
	}
}

// ---------------------------------------------------------------------------
// Logout / Verify / CheckGroup
// ---------------------------------------------------------------------------

func TestLogout_RevokesBothTokens(t *testing.T) {
	f := setupService(t)
	f.tokens.On("Revoke", mock.Anything, "access-token", false).Return("jdoe", nil)
	f.tokens.On("Revoke", mock.Anything, "refresh-token", false).Return("jdoe", nil)

	f.svc.Logout(context.Background(), "access-token", "refresh-token", false)
	f.tokens.AssertNumberOfCalls(t, "Revoke", 2)
}

func TestLogout_AllSessions_SingleSweep(t *testing.T) {
	f := setupService(t)
	f.tokens.On("Revoke", mock.Anything, "access-token", true).Return("jdoe", nil)

	f.svc.Logout(context.Background(), "access-token", "refresh-token", true)

	// The account tag sweep covers the refresh token too.
	f.tokens.AssertNumberOfCalls(t, "Revoke", 1)
}

func TestLogout_ToleratesMalformedToken(t *testing.T) {
	f := setupService(t)
	f.tokens.On("Revoke", mock.Anything, "garbage", false).Return("", apperrors.InvalidToken("x"))
	f.tokens.On("Revoke", mock.Anything, "refresh-token", false).Return("jdoe", nil)

	f.svc.Logout(context.Background(), "garbage", "refresh-token", false)
	f.tokens.AssertNumberOfCalls(t, "Revoke", 2)
}

func TestVerify_Delegates(t *testing.T) {
	f := setupService(t)
	claims := &token.AccessClaims{SamAccountName: "jdoe"}
	f.tokens.On("VerifyAccessToken", mock.Anything, "access-token").Return(claims, nil)

	got, err := f.svc.Verify(context.Background(), "access-token")
	require.NoError(t, err)
	assert.Equal(t, claims, got)
}

func TestCheckGroup_Delegates(t *testing.T) {
	f := setupService(t)
	f.groups.On("CheckMembership", mock.Anything, "jdoe", "CN=John Doe,DC=x", "VPN Users", true).
		Return(true, nil)

	ok, err := f.svc.CheckGroup(context.Background(), "jdoe", "CN=John Doe,DC=x", "VPN Users", true)
	require.NoError(t, err)
	assert.True(t, ok)
}
