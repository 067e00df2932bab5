package ro

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/samber/ro"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownSignals(t *testing.T) {
	assert.Contains(t, ShutdownSignals, syscall.SIGINT)
	assert.Contains(t, ShutdownSignals, syscall.SIGTERM)
}

func TestGracefulShutdownWithSignals_EmitsOnSignal(t *testing.T) {
	got := make(chan os.Signal, 1)
	done := make(chan struct{})

	GracefulShutdownWithSignals(syscall.SIGUSR1).Subscribe(ro.NewObserver(
		func(sig os.Signal) { got <- sig },
		func(error) {},
		func() { close(done) },
	))

	// Registration completes before Subscribe returns, so the process
	// can signal itself without racing the handler.
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))

	select {
	case sig := <-got:
		assert.Equal(t, syscall.SIGUSR1, sig)
	case <-time.After(2 * time.Second):
		t.Fatal("signal was not observed")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not complete after the signal")
	}
}

func TestWaitForShutdown_PreCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sig, err := WaitForShutdown(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, sig)
}

func TestWaitForShutdown_Deadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	sig, err := WaitForShutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, sig)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}
