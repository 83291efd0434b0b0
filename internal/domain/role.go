package domain

import (
	"sort"
	"strings"
)

const (
	RoleUser  = "ROLE_USER"
	RoleAdmin = "ROLE_ADMIN"
)

// Authorities maps a user's role set to the authority strings carried in
// session tokens. The result is sorted and de-duplicated; roles missing
// the ROLE_ prefix get it added.
func Authorities(u *User) []string {
	if u == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(u.Roles))
	out := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		r = strings.ToUpper(strings.TrimSpace(r))
		if r == "" {
			continue
		}
		if !strings.HasPrefix(r, "ROLE_") {
			r = "ROLE_" + r
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// HasRole reports whether the authority set contains role.
func HasRole(authorities []string, role string) bool {
	for _, a := range authorities {
		if a == role {
			return true
		}
	}
	return false
}
