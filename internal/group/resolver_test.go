package group

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haitnmt/Haihv.Identities/internal/cache"
	"github.com/haitnmt/Haihv.Identities/internal/domain"
)

// fakeDirectory serves a membership graph from a map of member DN to
// parent groups, counting lookups. inChain answers the server-side
// transitive match, keyed by group DN.
type fakeDirectory struct {
	parents    map[string][]*domain.Group
	failing    map[string]error
	inChain    map[string]bool
	calls      int
	chainCalls int
}

func (f *fakeDirectory) ParentGroups(_ context.Context, memberDN string) ([]*domain.Group, error) {
	f.calls++
	if err, ok := f.failing[memberDN]; ok {
		return nil, err
	}
	return f.parents[memberDN], nil
}

func (f *fakeDirectory) IsMemberInChain(_ context.Context, groupDN, _ string) (bool, error) {
	f.chainCalls++
	return f.inChain[groupDN], nil
}

func grp(cn, dn string) *domain.Group {
	return &domain.Group{Cn: cn, DistinguishedName: dn}
}

const userDN = "CN=John Doe,OU=Staff,DC=corp,DC=example,DC=com"

func setupResolver(t *testing.T, dir Directory) *Resolver {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewResolver(dir, cache.New(client), time.Hour, slog.New(slog.DiscardHandler))
}

func TestResolve_FlattensNestedGroups(t *testing.T) {
	dir := &fakeDirectory{parents: map[string][]*domain.Group{
		userDN: {grp("Staff", "CN=Staff,DC=x"), grp("VPN Users", "CN=VPN Users,DC=x")},
		"CN=Staff,DC=x": {grp("All Employees", "CN=All Employees,DC=x")},
	}}
	r := setupResolver(t, dir)

	names, err := r.ResolveAllGroupNames(context.Background(), userDN)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Staff", "VPN Users", "All Employees"}, names)
}

func TestResolve_NoGroups(t *testing.T) {
	dir := &fakeDirectory{}
	r := setupResolver(t, dir)

	names, err := r.ResolveAllGroupNames(context.Background(), userDN)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestResolve_CycleTerminates(t *testing.T) {
	// A is a member of B and B a member of A.
	dir := &fakeDirectory{parents: map[string][]*domain.Group{
		userDN:     {grp("A", "CN=A,DC=x")},
		"CN=A,DC=x": {grp("B", "CN=B,DC=x")},
		"CN=B,DC=x": {grp("A", "CN=A,DC=x")},
	}}
	r := setupResolver(t, dir)

	names, err := r.ResolveAllGroupNames(context.Background(), userDN)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B"}, names)
	assert.Equal(t, 3, dir.calls)
}

func TestResolve_SkipsFailedNodes(t *testing.T) {
	lookupErr := errors.New("node unavailable")
	dir := &fakeDirectory{
		parents: map[string][]*domain.Group{
			userDN:     {grp("A", "CN=A,DC=x"), grp("B", "CN=B,DC=x")},
			"CN=B,DC=x": {grp("C", "CN=C,DC=x")},
		},
		failing: map[string]error{"CN=A,DC=x": lookupErr},
	}
	r := setupResolver(t, dir)

	names, err := r.ResolveAllGroupNames(context.Background(), userDN)
	assert.ErrorIs(t, err, lookupErr)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, names)
}

func TestGroupNames_ServedFromCache(t *testing.T) {
	dir := &fakeDirectory{parents: map[string][]*domain.Group{
		userDN: {grp("Staff", "CN=Staff,DC=x")},
	}}
	r := setupResolver(t, dir)
	ctx := context.Background()

	first, err := r.GroupNames(ctx, "jdoe", userDN, false)
	require.NoError(t, err)
	callsAfterFirst := dir.calls

	second, err := r.GroupNames(ctx, "jdoe", userDN, false)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, callsAfterFirst, dir.calls, "second call must not hit the directory")
}

func TestGroupNames_RefreshBypassesCache(t *testing.T) {
	dir := &fakeDirectory{parents: map[string][]*domain.Group{
		userDN: {grp("Staff", "CN=Staff,DC=x")},
	}}
	r := setupResolver(t, dir)
	ctx := context.Background()

	_, err := r.GroupNames(ctx, "jdoe", userDN, false)
	require.NoError(t, err)
	callsAfterFirst := dir.calls

	_, err = r.GroupNames(ctx, "jdoe", userDN, true)
	require.NoError(t, err)
	assert.Greater(t, dir.calls, callsAfterFirst)
}

func TestGroupNames_PartialResultNotCached(t *testing.T) {
	dir := &fakeDirectory{failing: map[string]error{userDN: errors.New("down")}}
	r := setupResolver(t, dir)
	ctx := context.Background()

	_, err := r.GroupNames(ctx, "jdoe", userDN, false)
	assert.Error(t, err)
	callsAfterFirst := dir.calls

	// Next call walks the directory again instead of serving a bad set.
	_, err = r.GroupNames(ctx, "jdoe", userDN, false)
	assert.Error(t, err)
	assert.Greater(t, dir.calls, callsAfterFirst)
}

func TestCheckMembership(t *testing.T) {
	dir := &fakeDirectory{parents: map[string][]*domain.Group{
		userDN: {grp("VPN Users", "CN=VPN Users,DC=x")},
	}}
	r := setupResolver(t, dir)
	ctx := context.Background()

	ok, err := r.CheckMembership(ctx, "jdoe", userDN, "vpn users", false)
	require.NoError(t, err)
	assert.True(t, ok, "match is case-insensitive")

	ok, err = r.CheckMembership(ctx, "jdoe", userDN, "Domain Admins", false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckMembership_DistinguishedName_UsesTransitiveMatch(t *testing.T) {
	dir := &fakeDirectory{inChain: map[string]bool{"CN=VPN Users,DC=x": true}}
	r := setupResolver(t, dir)
	ctx := context.Background()

	ok, err := r.CheckMembership(ctx, "jdoe", userDN, "CN=VPN Users,DC=x", false)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.CheckMembership(ctx, "jdoe", userDN, "CN=Admins,DC=x", false)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 2, dir.chainCalls)
	assert.Zero(t, dir.calls, "a DN query must not trigger the client-side walk")
}

func TestWarmCache_PopulatesInBackground(t *testing.T) {
	dir := &fakeDirectory{parents: map[string][]*domain.Group{
		userDN: {grp("Staff", "CN=Staff,DC=x")},
	}}
	r := setupResolver(t, dir)

	r.WarmCache("jdoe", userDN)

	assert.Eventually(t, func() bool {
		var names []string
		return r.cache.GetJSON(context.Background(), cache.GroupsKey("jdoe"), &names) == nil
	}, 2*time.Second, 10*time.Millisecond)
}
