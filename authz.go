package auth

// AdminPolicy grants admin privileges to a single email address.
type AdminPolicy struct {
	AdminEmail string
}

// Allows is an exact, case sensitive match. An empty policy allows no one.
func (p AdminPolicy) Allows(email string) bool {
	return p.AdminEmail != "" && email == p.AdminEmail
}

// IsAdmin reports whether identity holds admin privileges under policy.
// The flag is recomputed from the email, never read from a cache.
func IsAdmin(identity *Identity, policy AdminPolicy) bool {
	if identity == nil {
		return false
	}
	return policy.Allows(identity.Email())
}
