package auth

import "strings"

// MetadataKeyName is the user metadata key holding the display name.
const MetadataKeyName = "name"

// Identity is the resolved profile of the authenticated principal. It is
// immutable; a changed profile is a new Identity. A nil *Identity means
// nobody is signed in.
type Identity struct {
	id          string
	email       string
	displayName string
	admin       bool
}

// NewIdentity derives an Identity from a user. The admin flag is
// computed from policy every time an Identity is built.
func NewIdentity(user *User, policy AdminPolicy) *Identity {
	if user == nil {
		return nil
	}

	name := user.MetadataString(MetadataKeyName)
	if name == "" {
		name = emailLocalPart(user.Email)
	}

	return &Identity{
		id:          user.ID,
		email:       user.Email,
		displayName: name,
		admin:       policy.Allows(user.Email),
	}
}

// ID is the stable identifier issued by the identity service.
func (i *Identity) ID() string {
	if i == nil {
		return ""
	}
	return i.id
}

func (i *Identity) Email() string {
	if i == nil {
		return ""
	}
	return i.email
}

func (i *Identity) DisplayName() string {
	if i == nil {
		return ""
	}
	return i.displayName
}

// IsAdmin is false for a nil identity.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.admin
}

// Equal compares two identities by value.
func (i *Identity) Equal(o *Identity) bool {
	if i == nil || o == nil {
		return i == o
	}
	return *i == *o
}

// IdentityView is the serializable form of an Identity.
type IdentityView struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"name"`
	IsAdmin     bool   `json:"is_admin"`
}

// View returns the serializable form, nil for a nil identity.
func (i *Identity) View() *IdentityView {
	if i == nil {
		return nil
	}
	return &IdentityView{
		ID:          i.id,
		Email:       i.email,
		DisplayName: i.displayName,
		IsAdmin:     i.admin,
	}
}

func emailLocalPart(email string) string {
	email = strings.TrimSpace(email)
	if at := strings.LastIndex(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}
