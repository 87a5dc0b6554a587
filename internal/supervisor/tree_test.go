package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeRunsAndStopsServices(t *testing.T) {
	tree := NewTree(TreeConfig{ShutdownTimeout: time.Second})

	var ingest, api atomic.Int32
	tree.AddIngestService(NewFunc("ingest", func(ctx context.Context) error {
		ingest.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}))
	tree.AddAPIService(NewFunc("api", func(ctx context.Context) error {
		api.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	require.Eventually(t, func() bool { return ingest.Load() == 1 && api.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			assert.True(t, errors.Is(err, context.Canceled))
		}
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}

	unstopped, err := tree.UnstoppedServiceReport()
	require.NoError(t, err)
	assert.Empty(t, unstopped)
}

func TestTreeRestartsFailedService(t *testing.T) {
	tree := NewTree(TreeConfig{ShutdownTimeout: time.Second, FailureBackoff: 10 * time.Millisecond})

	var runs atomic.Int32
	tree.AddIngestService(NewFunc("flaky", func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			return errors.New("boom")
		}
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-errCh
}

func TestFuncString(t *testing.T) {
	assert.Equal(t, "latency-summary", NewFunc("latency-summary", nil).String())
}
