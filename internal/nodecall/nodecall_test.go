package nodecall

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/auraspeak/broker/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoke_Success(t *testing.T) {
	called := false
	err := Invoke(context.Background(), time.Second, "talker", OpKillPublisher, func(ctx context.Context) error {
		called = true
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestInvoke_NoTimeout(t *testing.T) {
	err := Invoke(context.Background(), 0, "talker", OpKillPublisher, func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestInvoke_WrapsFailure(t *testing.T) {
	cause := errors.New("connection refused")
	err := Invoke(context.Background(), time.Second, "talker", OpUpdatePublisher, func(context.Context) error {
		return cause
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrPeerUnreachable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), `node "talker" update_publisher`)
}

func TestInvoke_AlreadyUnreachableIsNotDoubleWrapped(t *testing.T) {
	cause := errors.Join(api.ErrPeerUnreachable, errors.New("dial"))
	err := Invoke(context.Background(), time.Second, "talker", OpKillSubscriber, func(context.Context) error {
		return cause
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrPeerUnreachable)
	assert.Equal(t, 1, strings.Count(err.Error(), api.ErrPeerUnreachable.Error()))
}

func TestInvoke_TimeoutBoundsTheCall(t *testing.T) {
	start := time.Now()
	err := Invoke(context.Background(), 20*time.Millisecond, "slow", OpKillPublisherConnection, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, api.ErrPeerUnreachable)
	assert.Less(t, time.Since(start), time.Second)
}
