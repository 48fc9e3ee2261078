package auth

import "context"

type Role string

const (
	RoleAdministrator Role = "administrator"
	RolePathologist   Role = "pathologist"
	RoleAuxiliary     Role = "auxiliary"
	RoleResident      Role = "resident"
	RoleBilling       Role = "billing"
)

var validRoles = map[Role]bool{
	RoleAdministrator: true,
	RolePathologist:   true,
	RoleAuxiliary:     true,
	RoleResident:      true,
	RoleBilling:       true,
}

func (r Role) Valid() bool { return validRoles[r] }

// Identity is the authenticated caller resolved from a bearer token.
type Identity struct {
	UserID          string
	Email           string
	Name            string
	Role            Role
	PathologistCode string
	ResidentCode    string
	AuxiliaryCode   string
	BillingCode     string
}

type contextKey string

const identityKey contextKey = "identity"

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns nil for unauthenticated (system) callers.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

func UserIDFromContext(ctx context.Context) string {
	if id := IdentityFromContext(ctx); id != nil {
		return id.UserID
	}
	return ""
}
