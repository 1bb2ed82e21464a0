package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentityRoundTrip(t *testing.T) {
	ctx := WithIdentity(context.Background(), Identity{UserID: "alice", SessionID: "s-1"})
	id, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "alice", id.UserID)
	require.Equal(t, "alice", UserID(ctx))
	require.Equal(t, "s-1", SessionID(ctx))
}

func TestIdentityMissing(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)
	require.Empty(t, UserID(context.Background()))

	_, ok = FromContext(WithIdentity(context.Background(), Identity{SessionID: "s-1"}))
	require.False(t, ok, "an identity without a user is not authenticated")
}
