package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestShutdownHandlerClosesInReverseOrder(t *testing.T) {
	sh := NewShutdownHandler(zaptest.NewLogger(t), time.Second)

	var order []string
	for _, name := range []string{"store", "metrics", "bot"} {
		sh.AddFunc(name, func() error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, sh.Shutdown(context.Background()))
	assert.Equal(t, []string{"bot", "metrics", "store"}, order)

	// Services are released after the first shutdown.
	require.NoError(t, sh.Shutdown(context.Background()))
	assert.Len(t, order, 3)
}

func TestShutdownHandlerCollectsErrors(t *testing.T) {
	sh := NewShutdownHandler(zaptest.NewLogger(t), 50*time.Millisecond)
	errClose := errors.New("close failed")
	release := make(chan struct{})
	defer close(release)

	closed := false
	sh.AddFunc("store", func() error {
		closed = true
		return nil
	})
	sh.AddFunc("broken", func() error { return errClose })
	sh.AddFunc("stuck", func() error {
		<-release
		return nil
	})

	err := sh.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errClose)
	assert.Contains(t, err.Error(), "stuck: shutdown timed out")
	assert.True(t, closed)
}
