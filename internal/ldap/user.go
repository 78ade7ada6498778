package ldap

import (
	"context"

	goldap "github.com/go-ldap/ldap/v3"

	"github.com/haitnmt/Haihv.Identities/internal/domain"
)

// FindUser resolves a typed-in username to a directory principal.
// Returns (nil, nil) when no matching entry exists.
func (c *Client) FindUser(ctx context.Context, username string) (*domain.User, error) {
	principalName, accountName := c.principalVariants(username)

	filter := classFilter(ClassUser, Or(
		Eq(AttrUserPrincipalName, principalName),
		Eq(AttrSamAccountName, accountName),
		Eq(AttrMail, username),
	))
	entries, err := c.search(ctx, filter, userAttributes)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return userFromEntry(entries[0]), nil
}

func userFromEntry(entry *goldap.Entry) *domain.User {
	user := &domain.User{
		ID:                parseObjectGUID(entry.GetRawAttributeValue(AttrObjectGUID)),
		SamAccountName:    entry.GetAttributeValue(AttrSamAccountName),
		UserPrincipalName: entry.GetAttributeValue(AttrUserPrincipalName),
		DistinguishedName: entry.DN,
		DisplayName:       entry.GetAttributeValue(AttrDisplayName),
		Email:             entry.GetAttributeValue(AttrMail),
		JobTitle:          entry.GetAttributeValue(AttrTitle),
		Department:        entry.GetAttributeValue(AttrDepartment),
		Organization:      entry.GetAttributeValue(AttrCompany),
		Description:       entry.GetAttributeValue(AttrDescription),
		AccountExpires:    parseFiletime(entry.GetAttributeValue(AttrAccountExpires)),
		PwdLastSet:        parseFiletime(entry.GetAttributeValue(AttrPwdLastSet)),
		WhenCreated:       parseGeneralizedTime(entry.GetAttributeValue(AttrWhenCreated)),
		WhenChanged:       parseGeneralizedTime(entry.GetAttributeValue(AttrWhenChanged)),
	}
	if user.DisplayName == "" {
		user.DisplayName = entry.GetAttributeValue(AttrCn)
	}
	// A non-zero lockoutTime means the account is currently locked out.
	if lockout := parseFiletime(entry.GetAttributeValue(AttrLockoutTime)); !lockout.IsZero() {
		user.IsLocked = true
	}
	return user
}
