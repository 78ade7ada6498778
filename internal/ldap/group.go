package ldap

import (
	"context"

	goldap "github.com/go-ldap/ldap/v3"

	"github.com/haitnmt/Haihv.Identities/internal/domain"
)

// FindGroupByDN fetches a group by its distinguished name.
// Returns (nil, nil) when the entry does not exist.
func (c *Client) FindGroupByDN(ctx context.Context, dn string) (*domain.Group, error) {
	filter := classFilter(ClassGroup, Eq(AttrDistinguishedName, dn))
	entries, err := c.search(ctx, filter, groupAttributes)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return groupFromEntry(entries[0]), nil
}

// ParentGroups returns the groups that list memberDN as a direct member.
func (c *Client) ParentGroups(ctx context.Context, memberDN string) ([]*domain.Group, error) {
	filter := classFilter(ClassGroup, Eq(AttrMember, memberDN))
	entries, err := c.search(ctx, filter, groupAttributes)
	if err != nil {
		return nil, err
	}
	groups := make([]*domain.Group, 0, len(entries))
	for _, entry := range entries {
		groups = append(groups, groupFromEntry(entry))
	}
	return groups, nil
}

// memberInChainFilter matches the group at groupDN only when memberDN
// sits anywhere in its nested membership, resolved server-side.
func memberInChainFilter(groupDN, memberDN string) string {
	return classFilter(ClassGroup, And(
		Eq(AttrDistinguishedName, groupDN),
		Eq(AttrMemberInChain, memberDN),
	))
}

// IsMemberInChain reports whether memberDN sits anywhere below groupDN
// in the membership graph, in a single transitive query instead of a
// client-side walk.
func (c *Client) IsMemberInChain(ctx context.Context, groupDN, memberDN string) (bool, error) {
	entries, err := c.search(ctx, memberInChainFilter(groupDN, memberDN), []string{AttrDistinguishedName})
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

func groupFromEntry(entry *goldap.Entry) *domain.Group {
	return &domain.Group{
		ID:                parseObjectGUID(entry.GetRawAttributeValue(AttrObjectGUID)),
		Cn:                entry.GetAttributeValue(AttrCn),
		SamAccountName:    entry.GetAttributeValue(AttrSamAccountName),
		DistinguishedName: entry.DN,
		Description:       entry.GetAttributeValue(AttrDescription),
		MemberOf:          entry.GetAttributeValues(AttrMemberOf),
		WhenCreated:       parseGeneralizedTime(entry.GetAttributeValue(AttrWhenCreated)),
		WhenChanged:       parseGeneralizedTime(entry.GetAttributeValue(AttrWhenChanged)),
	}
}
