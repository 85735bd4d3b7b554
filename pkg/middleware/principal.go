package middleware

import (
	"context"
	"strings"

	"feedshop-rewards/pkg/errutil"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// HeaderUserID carries the authenticated caller, set by the upstream auth gateway.
const HeaderUserID = "X-User-ID"

type principalKey struct{}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, principalKey{}, userID)
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(principalKey{}).(string)
	return id, ok && id != ""
}

// Principal copies the caller id from the request header into the request context.
func Principal() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := strings.TrimSpace(c.GetHeader(HeaderUserID)); id != "" {
			c.Request = c.Request.WithContext(WithUserID(c.Request.Context(), id))
		}
		c.Next()
	}
}

// RequireUser rejects requests that reach it without a caller id.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := UserIDFromContext(c.Request.Context()); !ok {
			_ = c.Error(errutil.Unauthorized("missing "+HeaderUserID+" header", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}

func UserID(c *gin.Context) string {
	id, _ := UserIDFromContext(c.Request.Context())
	return id
}

// PrincipalInterceptor is the gRPC counterpart of Principal, reading x-user-id from metadata.
func PrincipalInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return handler(ctx, req)
		}

		if ids := md.Get(strings.ToLower(HeaderUserID)); len(ids) > 0 && ids[0] != "" {
			ctx = WithUserID(ctx, ids[0])
		}
		return handler(ctx, req)
	}
}
