package errutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestToGRPCError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
		msg  string
	}{
		{name: "bad request", err: InvalidAmount(0), code: codes.InvalidArgument},
		{name: "precondition", err: InsufficientBalance(500, 100), code: codes.FailedPrecondition},
		{name: "conflict", err: BadgeAlreadyOwned("VIP"), code: codes.AlreadyExists, msg: "[BADGE_ALREADY_OWNED] badge VIP already owned"},
		{name: "not found", err: UserNotFound("u-1"), code: codes.NotFound, msg: "[USER_NOT_FOUND] user u-1 not found"},
		{name: "internal hides cause", err: Internal("boom", errors.New("dsn=secret")), code: codes.Internal, msg: "boom"},
		{name: "plain error", err: errors.New("raw"), code: codes.Internal, msg: "internal error"},
		{name: "deadline", err: context.DeadlineExceeded, code: codes.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, ok := status.FromError(ToGRPCError(tt.err))
			require.True(t, ok)
			require.Equal(t, tt.code, st.Code())
			if tt.msg != "" {
				require.Equal(t, tt.msg, st.Message())
			}
		})
	}

	require.NoError(t, ToGRPCError(nil))
	require.Equal(t, codes.Unknown, CoreStatus("weird").GRPCCode())
}
