package middleware

import (
	"context"

	"feedshop-rewards/pkg/errutil"
	"feedshop-rewards/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Error renders the last error pushed with c.Error. BaseError keeps its own status,
// anything else becomes a 500 without leaking the cause.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		if v, ok := errutil.As(err); ok {
			c.AbortWithStatusJSON(v.Code.HTTPStatus(), v.JSON())
			return
		}

		logger.L(c.Request.Context()).Error("unhandled request error",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)

		internal, _ := errutil.As(errutil.Internal("internal server error", nil))
		c.AbortWithStatusJSON(internal.Code.HTTPStatus(), internal.JSON())
	}
}

// ErrorInterceptor maps domain errors returned by gRPC handlers onto status codes.
func ErrorInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			return nil, errutil.ToGRPCError(err)
		}
		return resp, nil
	}
}
