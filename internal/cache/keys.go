package cache

// Key builders for the gateway's cache namespace. Account-scoped keys
// are prefixed with the sAMAccountName so entries for one principal
// sort together in Redis tooling.

// UserKey caches the resolved directory principal.
func UserKey(account string) string {
	return account + ":LdapUser"
}

// GroupsKey caches the transitive group names of a principal.
func GroupsKey(account string) string {
	return account + ":LdapGroups"
}

// AccessTokenKey marks an access token as live. Absence means revoked.
func AccessTokenKey(account, jti string) string {
	return account + ":AccessToken:" + jti
}

// RefreshTokenKey stores the opaque secret of a refresh token.
func RefreshTokenKey(account, jti string) string {
	return account + ":RefreshToken:" + jti
}

// LockKey tracks failed-attempt state for a client IP.
func LockKey(ip string) string {
	return "CheckIp:Lock:" + ip
}

// NotFoundKey remembers that a username does not exist in the directory.
func NotFoundKey(username string) string {
	return "NotFound:" + username
}
