package ldap

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Active Directory generalized-time layout, e.g. 20250829143000.0Z.
const generalizedTimeLayout = "20060102150405.0Z"

// filetimeEpochOffset is the number of seconds between the Windows
// FILETIME epoch (1601-01-01) and the Unix epoch.
const filetimeEpochOffset = 11644473600

// filetimeNever marks accounts that never expire.
const filetimeNever = 0x7FFFFFFFFFFFFFFF

func parseGeneralizedTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(generalizedTimeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// parseFiletime converts a FILETIME attribute (100ns intervals since
// 1601) to a time. Zero and the never-expires sentinel map to the zero
// time.
func parseFiletime(s string) time.Time {
	raw, err := strconv.ParseInt(s, 10, 64)
	if err != nil || raw == 0 || raw == filetimeNever {
		return time.Time{}
	}
	secs := raw/10000000 - filetimeEpochOffset
	if secs < 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

// parseObjectGUID decodes the 16-byte objectGUID attribute. Active
// Directory stores the first three fields little-endian, so the bytes
// are reordered before the RFC 4122 parse.
func parseObjectGUID(raw []byte) uuid.UUID {
	if len(raw) != 16 {
		return uuid.Nil
	}
	ordered := []byte{
		raw[3], raw[2], raw[1], raw[0],
		raw[5], raw[4],
		raw[7], raw[6],
		raw[8], raw[9], raw[10], raw[11], raw[12], raw[13], raw[14], raw[15],
	}
	id, err := uuid.FromBytes(ordered)
	if err != nil {
		return uuid.Nil
	}
	return id
}
