// Package ldap adapts the go-ldap client to the gateway's needs: one
// short-lived connection per operation, a circuit breaker around the
// directory, and mapping of raw entries onto domain types.
package ldap

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/sony/gobreaker/v2"

	apperrors "github.com/haitnmt/Haihv.Identities/pkg/errors"
)

// Config holds directory connection settings.
type Config struct {
	// URL is the directory server address, e.g. ldaps://dc1.corp.example.com:636.
	URL string
	// BaseDN is the search base for users and groups.
	BaseDN string
	// RootGroupDN, when set, scopes membership checks to this subtree.
	RootGroupDN string
	// Domain is the NetBIOS domain name, e.g. CORP.
	Domain string
	// DomainFullname is the DNS domain, e.g. corp.example.com.
	DomainFullname string
	// BindDN and BindPassword identify the service account used for searches.
	BindDN       string
	BindPassword string
	// Timeout bounds dialing and each directory operation.
	Timeout time.Duration
	// InsecureSkipVerify disables certificate verification for ldaps.
	InsecureSkipVerify bool
}

// Client executes authenticated operations against the directory. Every
// operation opens a fresh connection; the directory handles connection
// churn better than this gateway handles stale ones.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker[[]*goldap.Entry]
}

// NewClient creates a directory client with a circuit breaker sized for
// an intermittently reachable domain controller.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	settings := gobreaker.Settings{
		Name:        "ldap-directory",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}
	return &Client{
		cfg:     cfg,
		logger:  logger,
		breaker: gobreaker.NewCircuitBreaker[[]*goldap.Entry](settings),
	}
}

func (c *Client) dial() (*goldap.Conn, error) {
	opts := []goldap.DialOpt{
		goldap.DialWithDialer(&net.Dialer{Timeout: c.cfg.Timeout}),
	}
	if strings.HasPrefix(c.cfg.URL, "ldaps://") {
		opts = append(opts, goldap.DialWithTLSConfig(&tls.Config{
			InsecureSkipVerify: c.cfg.InsecureSkipVerify,
		}))
	}
	conn, err := goldap.DialURL(c.cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial directory: %w", err)
	}
	conn.SetTimeout(c.cfg.Timeout)
	return conn, nil
}

// Authenticate binds as the user to prove the password. Invalid
// credentials map to the authentication sentinel; anything else means
// the directory itself is unwell.
func (c *Client) Authenticate(ctx context.Context, principalName, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := c.dial()
	if err != nil {
		return apperrors.DirectoryUnavailable(err)
	}
	defer conn.Close()

	if err := conn.Bind(principalName, password); err != nil {
		if goldap.IsErrorWithCode(err, goldap.LDAPResultInvalidCredentials) {
			return apperrors.ErrAuthenticationFailed
		}
		return apperrors.DirectoryUnavailable(err)
	}
	return nil
}

// search runs one filtered query under the service account, through the
// circuit breaker. An empty result is a successful search.
func (c *Client) search(ctx context.Context, filter string, attributes []string) ([]*goldap.Entry, error) {
	entries, err := c.breaker.Execute(func() ([]*goldap.Entry, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conn, err := c.dial()
		if err != nil {
			return nil, err
		}
		defer conn.Close()

		if err := conn.Bind(c.cfg.BindDN, c.cfg.BindPassword); err != nil {
			return nil, fmt.Errorf("bind service account: %w", err)
		}

		req := goldap.NewSearchRequest(
			c.cfg.BaseDN,
			goldap.ScopeWholeSubtree,
			goldap.NeverDerefAliases,
			0,
			int(c.cfg.Timeout.Seconds()),
			false,
			filter,
			attributes,
			nil,
		)
		res, err := conn.Search(req)
		if err != nil {
			if goldap.IsErrorWithCode(err, goldap.LDAPResultNoSuchObject) {
				return nil, nil
			}
			return nil, fmt.Errorf("search %s: %w", filter, err)
		}
		return res.Entries, nil
	})
	if err != nil {
		return nil, apperrors.DirectoryUnavailable(err)
	}
	return entries, nil
}

// Ping dials the directory for health checking. When a root group is
// configured, readiness also requires that it still resolves, so a
// renamed or deleted group surfaces in monitoring instead of as failed
// logins.
func (c *Client) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := c.dial()
	if err != nil {
		return err
	}
	if err := conn.Close(); err != nil {
		return err
	}
	if c.cfg.RootGroupDN == "" {
		return nil
	}
	group, err := c.FindGroupByDN(ctx, c.cfg.RootGroupDN)
	if err != nil {
		return err
	}
	if group == nil {
		return fmt.Errorf("root group %q not found", c.cfg.RootGroupDN)
	}
	return nil
}

// NormalizeAccount reduces any accepted username form to the bare
// sAMAccountName, which keys the gateway's per-account cache entries.
func (c *Client) NormalizeAccount(username string) string {
	_, accountName := c.principalVariants(username)
	return accountName
}

// principalVariants normalizes a typed-in username into the principal
// name and account name forms the directory knows. Accepts bare
// account names, DOMAIN\account and account@domain inputs.
func (c *Client) principalVariants(username string) (principalName, accountName string) {
	switch {
	case strings.Contains(username, "\\"):
		accountName = username[strings.LastIndex(username, "\\")+1:]
		principalName = accountName + "@" + c.cfg.DomainFullname
	case strings.Contains(username, "@"):
		principalName = username
		accountName = username[:strings.Index(username, "@")]
	default:
		accountName = username
		principalName = username + "@" + c.cfg.DomainFullname
	}
	return principalName, accountName
}
