// Package service composes the directory client, throttle, token
// provider and group resolver into the gateway's authentication flows.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/haitnmt/Haihv.Identities/internal/cache"
	"github.com/haitnmt/Haihv.Identities/internal/domain"
	"github.com/haitnmt/Haihv.Identities/internal/event"
	"github.com/haitnmt/Haihv.Identities/internal/token"
	apperrors "github.com/haitnmt/Haihv.Identities/pkg/errors"
)

// Directory is the slice of the directory client the service needs.
type Directory interface {
	Authenticate(ctx context.Context, principalName, password string) error
	FindUser(ctx context.Context, username string) (*domain.User, error)
	NormalizeAccount(username string) string
}

// TokenProvider issues and verifies session tokens.
type TokenProvider interface {
	IssueAccessToken(ctx context.Context, user *domain.User) (string, error)
	IssueRefreshToken(ctx context.Context, account string) (string, time.Time, error)
	VerifyAccessToken(ctx context.Context, tokenString string) (*token.AccessClaims, error)
	VerifyAndRotateRefreshToken(ctx context.Context, tokenString string) (string, time.Time, string, error)
	Revoke(ctx context.Context, tokenString string, all bool) (string, error)
}

// Throttle tracks failed attempts per client IP.
type Throttle interface {
	CheckLock(ctx context.Context, ip string) (int, int64, error)
	SetLock(ctx context.Context, ip string, maxAttempts, maxAttemptsPerDay int) error
	ClearLock(ctx context.Context, ip string) error
}

// Groups resolves transitive group membership.
type Groups interface {
	CheckMembership(ctx context.Context, account, principalDN, groupName string, refresh bool) (bool, error)
	WarmCache(account, principalDN string)
}

// Config carries the orchestration policy knobs.
type Config struct {
	// Free failed attempts before a login lock, and the daily ceiling.
	MaxAttempts       int
	MaxAttemptsPerDay int
	// Same pair for the refresh path, which tolerates more noise.
	RefreshMaxAttempts       int
	RefreshMaxAttemptsPerDay int
	// UserCacheTTL bounds the cached directory principal.
	UserCacheTTL time.Duration
	// NotFoundTTL bounds the negative cache for unknown usernames.
	NotFoundTTL time.Duration
}

// AuthService answers login, refresh, verify and logout requests.
type AuthService struct {
	dir      Directory
	tokens   TokenProvider
	throttle Throttle
	groups   Groups
	cache    *cache.TaggedCache
	events   *event.Producer
	cfg      Config
	logger   *slog.Logger
}

// NewAuthService wires the authentication orchestrator.
func NewAuthService(
	dir Directory,
	tokens TokenProvider,
	throttle Throttle,
	groups Groups,
	c *cache.TaggedCache,
	events *event.Producer,
	cfg Config,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		dir:      dir,
		tokens:   tokens,
		throttle: throttle,
		groups:   groups,
		cache:    c,
		events:   events,
		cfg:      cfg,
		logger:   logger,
	}
}

// LoginInput is a credential pair plus the caller's network identity.
// TrustedIP marks private and loopback sources, which bypass the
// throttle entirely.
type LoginInput struct {
	Username   string
	Password   string
	RememberMe bool
	ClientIP   string
	TrustedIP  bool
}

// LoginResult carries the issued tokens. RefreshToken is empty unless
// the caller asked to be remembered.
type LoginResult struct {
	User          *domain.User
	AccessToken   string
	RefreshToken  string
	RefreshExpiry time.Time
}

// Login authenticates a credential pair against the directory.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	if err := s.checkThrottle(ctx, in.ClientIP, in.TrustedIP); err != nil {
		return nil, err
	}

	account := s.dir.NormalizeAccount(in.Username)

	// A username recently proven absent fails without a directory trip.
	if _, err := s.cache.Get(ctx, cache.NotFoundKey(account)); err == nil {
		return nil, s.loginFailed(ctx, in, account, "unknown user", apperrors.UserNotFound(account))
	}

	user, err := s.lookupUser(ctx, account, in.Username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		if err := s.cache.Set(ctx, cache.NotFoundKey(account), []byte("1"), s.cfg.NotFoundTTL); err != nil {
			s.logger.WarnContext(ctx, "negative cache write failed", slog.String("error", err.Error()))
		}
		return nil, s.loginFailed(ctx, in, account, "unknown user", apperrors.UserNotFound(account))
	}

	if err := s.dir.Authenticate(ctx, user.UserPrincipalName, in.Password); err != nil {
		if errors.Is(err, apperrors.ErrAuthenticationFailed) {
			return nil, s.loginFailed(ctx, in, account, "invalid credentials", err)
		}
		return nil, err
	}

	if !in.TrustedIP {
		if err := s.throttle.ClearLock(ctx, in.ClientIP); err != nil {
			s.logger.WarnContext(ctx, "clearing ip lock failed", slog.String("error", err.Error()))
		}
	}

	accessToken, err := s.tokens.IssueAccessToken(ctx, user)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	result := &LoginResult{User: user, AccessToken: accessToken}
	if in.RememberMe {
		refreshToken, expiry, err := s.tokens.IssueRefreshToken(ctx, user.SamAccountName)
		if err != nil {
			return nil, apperrors.Internal(err)
		}
		result.RefreshToken = refreshToken
		result.RefreshExpiry = expiry
	}

	// Group resolution is slow against a deep directory; warm it off
	// the request path so the first membership check is instant.
	s.groups.WarmCache(user.SamAccountName, user.DistinguishedName)

	if err := s.events.PublishLoginSucceeded(ctx, user.SamAccountName, in.ClientIP); err != nil {
		s.logger.WarnContext(ctx, "publishing login event failed", slog.String("error", err.Error()))
	}
	s.logger.InfoContext(ctx, "login succeeded",
		slog.String("account", user.SamAccountName),
		slog.String("client_ip", in.ClientIP),
	)
	return result, nil
}

// RefreshInput is a refresh token plus the caller's network identity.
type RefreshInput struct {
	RefreshToken string
	ClientIP     string
	TrustedIP    bool
}

// RefreshResult carries the rotated token pair.
type RefreshResult struct {
	Account       string
	AccessToken   string
	RefreshToken  string
	RefreshExpiry time.Time
}

// Refresh spends a refresh token and returns a fresh pair. The spent
// token is gone regardless of outcome.
func (s *AuthService) Refresh(ctx context.Context, in RefreshInput) (*RefreshResult, error) {
	if err := s.checkThrottle(ctx, in.ClientIP, in.TrustedIP); err != nil {
		return nil, err
	}
	if in.RefreshToken == "" {
		return nil, apperrors.InvalidToken("missing refresh token")
	}

	newRefresh, expiry, account, err := s.tokens.VerifyAndRotateRefreshToken(ctx, in.RefreshToken)
	if err != nil {
		if !in.TrustedIP && errors.Is(err, apperrors.ErrInvalidToken) {
			s.recordFailure(ctx, in.ClientIP, s.cfg.RefreshMaxAttempts, s.cfg.RefreshMaxAttemptsPerDay)
		}
		return nil, err
	}

	user, err := s.lookupUser(ctx, account, account)
	if err != nil {
		return nil, err
	}
	if user == nil {
		// The principal vanished from the directory after the token
		// was minted. Treat the session as dead.
		if !in.TrustedIP {
			s.recordFailure(ctx, in.ClientIP, s.cfg.RefreshMaxAttempts, s.cfg.RefreshMaxAttemptsPerDay)
		}
		return nil, apperrors.InvalidToken("unknown principal")
	}

	accessToken, err := s.tokens.IssueAccessToken(ctx, user)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	if !in.TrustedIP {
		if err := s.throttle.ClearLock(ctx, in.ClientIP); err != nil {
			s.logger.WarnContext(ctx, "clearing ip lock failed", slog.String("error", err.Error()))
		}
	}
	if err := s.events.PublishTokenRefreshed(ctx, account, in.ClientIP); err != nil {
		s.logger.WarnContext(ctx, "publishing refresh event failed", slog.String("error", err.Error()))
	}
	return &RefreshResult{
		Account:       account,
		AccessToken:   accessToken,
		RefreshToken:  newRefresh,
		RefreshExpiry: expiry,
	}, nil
}

// Logout revokes the caller's session. With all set, every session of
// the account ends. Both tokens are best-effort: a malformed one is
// logged and skipped so the other can still be revoked.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string, all bool) {
	account := ""
	for _, t := range []string{accessToken, refreshToken} {
		if t == "" {
			continue
		}
		revoked, err := s.tokens.Revoke(ctx, t, all)
		if err != nil {
			s.logger.WarnContext(ctx, "token revocation failed", slog.String("error", err.Error()))
			continue
		}
		account = revoked
		if all {
			// The account tag already swept every session.
			break
		}
	}
	if account == "" {
		return
	}
	if err := s.events.PublishLoggedOut(ctx, account, all); err != nil {
		s.logger.WarnContext(ctx, "publishing logout event failed", slog.String("error", err.Error()))
	}
	s.logger.InfoContext(ctx, "logged out",
		slog.String("account", account),
		slog.Bool("all_sessions", all),
	)
}

// Verify checks an access token's signature and revocation marker.
func (s *AuthService) Verify(ctx context.Context, accessToken string) (*token.AccessClaims, error) {
	return s.tokens.VerifyAccessToken(ctx, accessToken)
}

// CheckGroup reports whether the account transitively belongs to the
// named group. refresh forces a fresh directory walk.
func (s *AuthService) CheckGroup(ctx context.Context, account, principalDN, groupName string, refresh bool) (bool, error) {
	return s.groups.CheckMembership(ctx, account, principalDN, groupName, refresh)
}

// checkThrottle rejects callers whose IP is currently locked.
func (s *AuthService) checkThrottle(ctx context.Context, clientIP string, trusted bool) error {
	if trusted {
		return nil
	}
	_, remaining, err := s.throttle.CheckLock(ctx, clientIP)
	if err != nil {
		return apperrors.Internal(err)
	}
	if remaining > 0 {
		return apperrors.IPLocked(remaining)
	}
	return nil
}

// lookupUser serves the principal from cache, falling back to the
// directory. Returns (nil, nil) for unknown usernames.
func (s *AuthService) lookupUser(ctx context.Context, account, username string) (*domain.User, error) {
	var cached domain.User
	err := s.cache.GetJSON(ctx, cache.UserKey(account), &cached)
	if err == nil {
		return &cached, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		return nil, apperrors.Internal(err)
	}

	user, err := s.dir.FindUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}
	if err := s.cache.SetJSON(ctx, cache.UserKey(user.SamAccountName), user, s.cfg.UserCacheTTL, user.SamAccountName); err != nil {
		s.logger.WarnContext(ctx, "caching principal failed", slog.String("error", err.Error()))
	}
	return user, nil
}

// loginFailed records the failure against the caller's IP, emits the
// audit event and builds the public error. The response is identical
// for unknown users and wrong passwords; cause keeps the distinction
// for logs and errors.Is checks.
func (s *AuthService) loginFailed(ctx context.Context, in LoginInput, account, reason string, cause error) error {
	remaining := -1
	if !in.TrustedIP {
		s.recordFailure(ctx, in.ClientIP, s.cfg.MaxAttempts, s.cfg.MaxAttemptsPerDay)
		count, _, err := s.throttle.CheckLock(ctx, in.ClientIP)
		if err == nil {
			remaining = s.cfg.MaxAttempts - count
			if remaining < 0 {
				remaining = 0
			}
		}
	}
	if err := s.events.PublishLoginFailed(ctx, in.Username, in.ClientIP, reason); err != nil {
		s.logger.WarnContext(ctx, "publishing login event failed", slog.String("error", err.Error()))
	}
	s.logger.InfoContext(ctx, "login failed",
		slog.String("account", account),
		slog.String("client_ip", in.ClientIP),
		slog.String("reason", reason),
	)
	return apperrors.AuthenticationFailed(remaining, cause)
}

func (s *AuthService) recordFailure(ctx context.Context, clientIP string, maxAttempts, maxPerDay int) {
	if err := s.throttle.SetLock(ctx, clientIP, maxAttempts, maxPerDay); err != nil {
		s.logger.WarnContext(ctx, "recording failed attempt failed", slog.String("error", err.Error()))
	}
}
