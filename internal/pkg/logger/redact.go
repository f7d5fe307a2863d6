package logger

import "strings"

const mask = "***"

// RedactEmail masks the local part of an address, keeping its first two
// characters when it has more than two. A display name is dropped:
//
//	"john.doe@example.com"        → "jo***@example.com"
//	"Ann <ab@example.com>"        → "***@example.com"
//	"not-an-email"                → "***@***"
func RedactEmail(email string) string {
	if i := strings.LastIndexByte(email, '<'); i >= 0 {
		email = strings.TrimSuffix(email[i+1:], ">")
	}
	local, domain, ok := strings.Cut(strings.TrimSpace(email), "@")
	if !ok || domain == "" || strings.Contains(domain, "@") {
		return mask + "@" + mask
	}
	if len(local) > 2 {
		return local[:2] + mask + "@" + domain
	}
	return mask + "@" + domain
}
