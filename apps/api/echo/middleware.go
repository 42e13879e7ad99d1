package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/academy/core"
	"github.com/trezcool/academy/core/user"
)

// roleMiddleware lets through admins and the users having one of roles.
// It relies on the context user set by activeUserMiddleware, so role changes apply immediately.
func roleMiddleware(a *authenticator, roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := a.getContextUser(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context user")
			}
			if usr.IsAdmin() || core.StringInSlice(usr.Role, roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

func adminMiddleware(a *authenticator) echo.MiddlewareFunc {
	return roleMiddleware(a)
}

// catalogManagerMiddleware guards the training catalog administration.
func catalogManagerMiddleware(a *authenticator) echo.MiddlewareFunc {
	return roleMiddleware(a, user.RoleLeader, user.RoleDeptHead)
}
