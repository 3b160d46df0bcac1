package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffFor(t *testing.T) {
	base := 100 * time.Millisecond
	require.Equal(t, 100*time.Millisecond, backoffFor(1, base))
	require.Equal(t, 200*time.Millisecond, backoffFor(2, base))
	require.Equal(t, 300*time.Millisecond, backoffFor(3, base))
	require.Equal(t, 500*time.Millisecond, backoffFor(5, base))
	require.Equal(t, 500*time.Millisecond, backoffFor(6, base))
	require.Equal(t, time.Minute, backoffFor(100, time.Minute))
}

func TestBackoffFor_DefaultsWhenBaseUnset(t *testing.T) {
	require.Equal(t, time.Second, backoffFor(1, 0))
}

func TestErrFatalReorg_Error(t *testing.T) {
	err := &ErrFatalReorg{Block: 42}
	require.Contains(t, err.Error(), "42")
}
