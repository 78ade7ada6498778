package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is a directory principal resolved from Active Directory.
type User struct {
	ID                uuid.UUID `json:"id"`
	SamAccountName    string    `json:"sam_account_name"`
	UserPrincipalName string    `json:"user_principal_name"`
	DistinguishedName string    `json:"distinguished_name"`
	DisplayName       string    `json:"display_name"`
	Email             string    `json:"email,omitempty"`
	JobTitle          string    `json:"job_title,omitempty"`
	Department        string    `json:"department,omitempty"`
	Organization      string    `json:"organization,omitempty"`
	Description       string    `json:"description,omitempty"`
	IsLocked          bool      `json:"is_locked"`
	AccountExpires    time.Time `json:"account_expires,omitzero"`
	PwdLastSet        time.Time `json:"pwd_last_set,omitzero"`
	WhenCreated       time.Time `json:"when_created,omitzero"`
	WhenChanged       time.Time `json:"when_changed,omitzero"`
}

// Group is a directory security group.
type Group struct {
	ID                uuid.UUID `json:"id"`
	Cn                string    `json:"cn"`
	SamAccountName    string    `json:"sam_account_name"`
	DistinguishedName string    `json:"distinguished_name"`
	Description       string    `json:"description,omitempty"`
	MemberOf          []string  `json:"member_of,omitempty"`
	WhenCreated       time.Time `json:"when_created,omitzero"`
	WhenChanged       time.Time `json:"when_changed,omitzero"`
}
