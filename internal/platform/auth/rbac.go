package auth

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/patholab/lis/internal/platform/apperr"
)

type Permission string

const (
	PermCaseRead       Permission = "case:read"
	PermCaseWrite      Permission = "case:write"
	PermCaseDelete     Permission = "case:delete"
	PermCaseAssign     Permission = "case:assign"
	PermCaseDeliver    Permission = "case:deliver"
	PermCaseTransition Permission = "case:transition"
	PermResultEdit     Permission = "result:edit"
	PermCaseSign       Permission = "case:sign"
	PermUrgentRead     Permission = "urgent:read"
	PermStatistics     Permission = "statistics:read"
	PermApprovalRead   Permission = "approval:read"
	PermApprovalWrite  Permission = "approval:write"
	PermApprovalDecide Permission = "approval:decide"
	PermApprovalDelete Permission = "approval:delete"
	PermTicketWrite    Permission = "ticket:write"
	PermTicketManage   Permission = "ticket:manage"
	PermUserAdmin      Permission = "user:admin"
	PermCounterPeek    Permission = "counter:peek"
)

// Policy maps each role to the operations it may perform. Administrators are
// allowed everything.
type Policy struct {
	grants map[Role]map[Permission]bool
}

// NewPolicy builds the role table. residentCanSign extends signing to residents.
func NewPolicy(residentCanSign bool) *Policy {
	grant := func(perms ...Permission) map[Permission]bool {
		m := make(map[Permission]bool, len(perms))
		for _, p := range perms {
			m[p] = true
		}
		return m
	}

	p := &Policy{grants: map[Role]map[Permission]bool{
		RoleAuxiliary: grant(
			PermCaseRead, PermCaseWrite, PermCaseAssign, PermCaseDeliver, PermCaseTransition,
			PermUrgentRead, PermStatistics,
			PermApprovalRead, PermApprovalWrite,
			PermTicketWrite,
		),
		RolePathologist: grant(
			PermCaseRead, PermResultEdit, PermCaseSign,
			PermUrgentRead, PermStatistics,
			PermApprovalRead, PermApprovalWrite, PermApprovalDecide,
			PermTicketWrite,
		),
		RoleResident: grant(
			PermCaseRead, PermResultEdit,
			PermUrgentRead,
			PermApprovalRead,
			PermTicketWrite,
		),
		RoleBilling: grant(
			PermCaseRead, PermStatistics,
			PermTicketWrite,
		),
	}}
	if residentCanSign {
		p.grants[RoleResident][PermCaseSign] = true
	}
	return p
}

// Allows reports whether role may perform perm.
func (p *Policy) Allows(role Role, perm Permission) bool {
	if role == RoleAdministrator {
		return true
	}
	return p.grants[role][perm]
}

// Check is the permission predicate evaluated at the start of each operation.
// A nil identity is treated as unauthenticated.
func (p *Policy) Check(ctx context.Context, perm Permission) error {
	id := IdentityFromContext(ctx)
	if id == nil {
		return apperr.Unauthorized("authentication required")
	}
	if !p.Allows(id.Role, perm) {
		return apperr.Forbidden("role %s may not perform %s", id.Role, perm)
	}
	return nil
}

// Require returns route middleware that passes when the caller holds any of perms.
func (p *Policy) Require(perms ...Permission) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(perms) == 0 {
				return next(c)
			}
			ctx := c.Request().Context()
			var err error
			for _, perm := range perms {
				if err = p.Check(ctx, perm); err == nil {
					return next(c)
				}
			}
			return err
		}
	}
}
