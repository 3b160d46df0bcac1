package processor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := NewRegistry()

	called := false
	r.Register("Transfer", func(ctx context.Context, hctx HandlerContext, rawArgs json.RawMessage) error {
		called = true
		return nil
	})

	handler, ok := r.Resolve("Transfer")
	require.True(t, ok)

	require.NoError(t, handler(context.Background(), nil, nil))
	require.True(t, called)
}

func TestRegistry_ResolveMissing(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Resolve("Unknown")
	require.False(t, ok)
}

func TestErrNoHandler_Error(t *testing.T) {
	err := &ErrNoHandler{EventName: "Transfer"}
	require.Contains(t, err.Error(), "Transfer")
}
