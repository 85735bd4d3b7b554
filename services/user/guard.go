package user

import (
	"context"
	"fmt"

	"feedshop-rewards/pkg/errutil"
	"feedshop-rewards/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// Guard authorizes the caller of a route against the access control policy.
type Guard struct {
	users Directory
	authz Authorizer
}

func NewGuard(users Directory, authz Authorizer) *Guard {
	return &Guard{users: users, authz: authz}
}

// Authorize returns AccessDenied when callerID may not perform act on obj.
func (g *Guard) Authorize(ctx context.Context, callerID, obj, act string) error {
	caller, err := g.users.Get(ctx, callerID)
	if err != nil {
		if errutil.IsReason(err, errutil.ReasonUserNotFound) {
			return errutil.AccessDenied(fmt.Sprintf("unknown caller %q", callerID))
		}
		return err
	}

	allowed, err := g.authz.Can(ctx, caller, obj, act)
	if err != nil {
		return errutil.Internal("failed to evaluate permission", err)
	}
	if !allowed {
		return errutil.AccessDenied(fmt.Sprintf("%s:%s is not permitted for role %s", obj, act, caller.Role))
	}
	return nil
}

// Require aborts the request unless the caller may perform act on obj.
func (g *Guard) Require(obj, act string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := g.Authorize(c.Request.Context(), middleware.UserID(c), obj, act); err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}
		c.Next()
	}
}
