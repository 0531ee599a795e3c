package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManager_ReverseOrder(t *testing.T) {
	sm := NewShutdownManager(nil, nil, time.Second)

	var order []string
	sm.Register("database", func(context.Context) error { order = append(order, "database"); return nil })
	sm.Register("cache", func(context.Context) error { order = append(order, "cache"); return nil })
	sm.Register("scheduler", func(context.Context) error { order = append(order, "scheduler"); return nil })

	require.NoError(t, sm.Shutdown())
	assert.Equal(t, []string{"scheduler", "cache", "database"}, order)
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(nil, nil, 0)
	assert.Equal(t, 30*time.Second, sm.shutdownTimeout)

	ran := false
	sm.Register("first", func(context.Context) error { ran = true; return nil })
	sm.Register("broken", func(context.Context) error { return errors.New("boom") })

	err := sm.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: boom")
	assert.True(t, ran, "later hooks still run after a failure")
}

func TestShutdownManager_WaitForShutdownOnCancel(t *testing.T) {
	sm := NewShutdownManager(nil, nil, time.Second)
	called := make(chan struct{}, 1)
	sm.Register("hook", func(context.Context) error { called <- struct{}{}; return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, sm.WaitForShutdown(ctx))
	select {
	case <-called:
	default:
		t.Fatal("hook was not called")
	}
}
