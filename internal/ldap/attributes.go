package ldap

// Directory attribute names used in searches.
const (
	AttrObjectGUID        = "objectGUID"
	AttrSamAccountName    = "sAMAccountName"
	AttrUserPrincipalName = "userPrincipalName"
	AttrDistinguishedName = "distinguishedName"
	AttrDisplayName       = "displayName"
	AttrCn                = "cn"
	AttrMail              = "mail"
	AttrTitle             = "title"
	AttrDepartment        = "department"
	AttrCompany           = "company"
	AttrDescription       = "description"
	AttrMember            = "member"
	AttrMemberOf          = "memberOf"
	AttrLockoutTime       = "lockoutTime"
	AttrAccountExpires    = "accountExpires"
	AttrPwdLastSet        = "pwdLastSet"
	AttrWhenCreated       = "whenCreated"
	AttrWhenChanged       = "whenChanged"
	AttrObjectClass       = "objectClass"
)

// matchingRuleInChain is the Active Directory extensible-match rule that
// walks membership links transitively in a single server-side query.
const matchingRuleInChain = "1.2.840.113556.1.4.1941"

// AttrMemberInChain matches members at any depth of nesting.
const AttrMemberInChain = AttrMember + ":" + matchingRuleInChain + ":"

// Object class values.
const (
	ClassUser     = "user"
	ClassGroup    = "group"
	ClassComputer = "computer"
)

var userAttributes = []string{
	AttrObjectGUID,
	AttrSamAccountName,
	AttrUserPrincipalName,
	AttrDistinguishedName,
	AttrDisplayName,
	AttrCn,
	AttrMail,
	AttrTitle,
	AttrDepartment,
	AttrCompany,
	AttrDescription,
	AttrLockoutTime,
	AttrAccountExpires,
	AttrPwdLastSet,
	AttrWhenCreated,
	AttrWhenChanged,
}

var groupAttributes = []string{
	AttrObjectGUID,
	AttrCn,
	AttrSamAccountName,
	AttrDistinguishedName,
	AttrDescription,
	AttrMemberOf,
	AttrWhenCreated,
	AttrWhenChanged,
}
