// Package group flattens the directory's nested group membership into
// the set of group names a principal transitively belongs to.
package group

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/haitnmt/Haihv.Identities/internal/cache"
	"github.com/haitnmt/Haihv.Identities/internal/domain"
)

// warmTimeout bounds a background cache-warming walk.
const warmTimeout = 30 * time.Second

// Directory is the slice of the directory client the resolver needs.
type Directory interface {
	ParentGroups(ctx context.Context, memberDN string) ([]*domain.Group, error)
	IsMemberInChain(ctx context.Context, groupDN, memberDN string) (bool, error)
}

// Resolver walks membership edges breadth-first and caches the result
// per account.
type Resolver struct {
	dir    Directory
	cache  *cache.TaggedCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewResolver creates a group resolver. ttl bounds how long a resolved
// set is served from cache.
func NewResolver(dir Directory, c *cache.TaggedCache, ttl time.Duration, logger *slog.Logger) *Resolver {
	return &Resolver{dir: dir, cache: c, ttl: ttl, logger: logger}
}

// ResolveAllGroupNames walks outward from principalDN and returns the
// deduplicated names of every group reachable through membership
// edges. Cycles terminate because each distinguished name is expanded
// at most once. A failed expansion of one node is logged and skipped;
// the first such error is returned alongside the partial result so
// callers can decide whether the set is trustworthy.
func (r *Resolver) ResolveAllGroupNames(ctx context.Context, principalDN string) ([]string, error) {
	seen := map[string]struct{}{principalDN: {}}
	queue := []string{principalDN}
	var names []string
	nameSet := make(map[string]struct{})
	var firstErr error

	for len(queue) > 0 {
		dn := queue[0]
		queue = queue[1:]

		parents, err := r.dir.ParentGroups(ctx, dn)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			r.logger.Warn("group expansion failed, skipping node",
				slog.String("dn", dn),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, parent := range parents {
			if _, ok := seen[parent.DistinguishedName]; ok {
				continue
			}
			seen[parent.DistinguishedName] = struct{}{}
			if _, ok := nameSet[parent.Cn]; !ok && parent.Cn != "" {
				nameSet[parent.Cn] = struct{}{}
				names = append(names, parent.Cn)
			}
			queue = append(queue, parent.DistinguishedName)
		}
	}
	return names, firstErr
}

// GroupNames returns the cached group set for the account, resolving
// and caching it on a miss. refresh forces a fresh walk.
func (r *Resolver) GroupNames(ctx context.Context, account, principalDN string, refresh bool) ([]string, error) {
	key := cache.GroupsKey(account)
	if !refresh {
		var names []string
		err := r.cache.GetJSON(ctx, key, &names)
		if err == nil {
			return names, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			return nil, err
		}
	}

	names, err := r.ResolveAllGroupNames(ctx, principalDN)
	if err != nil {
		// Partial sets are returned but never cached.
		return names, err
	}
	if cacheErr := r.cache.SetJSON(ctx, key, names, r.ttl, account); cacheErr != nil {
		r.logger.Warn("caching group set failed",
			slog.String("account", account),
			slog.String("error", cacheErr.Error()),
		)
	}
	return names, nil
}

// CheckMembership reports whether the account transitively belongs to
// the named group. refresh bypasses the cached set. A groupName given
// as a distinguished name is answered by the directory's transitive
// match in one query, skipping the walk and the cache.
func (r *Resolver) CheckMembership(ctx context.Context, account, principalDN, groupName string, refresh bool) (bool, error) {
	if strings.Contains(groupName, "=") {
		return r.dir.IsMemberInChain(ctx, groupName, principalDN)
	}
	names, err := r.GroupNames(ctx, account, principalDN, refresh)
	if err != nil {
		return false, err
	}
	for _, name := range names {
		if strings.EqualFold(name, groupName) {
			return true, nil
		}
	}
	return false, nil
}

// WarmCache resolves and caches the account's group set in the
// background, detached from the request that triggered it. Failures
// are logged, never surfaced.
func (r *Resolver) WarmCache(account, principalDN string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), warmTimeout)
		defer cancel()

		if _, err := r.GroupNames(ctx, account, principalDN, true); err != nil {
			r.logger.Warn("group cache warming failed",
				slog.String("account", account),
				slog.String("error", err.Error()),
			)
		}
	}()
}
