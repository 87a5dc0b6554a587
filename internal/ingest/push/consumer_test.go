package push

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortuna/scoreline/internal/provider"
	"github.com/fortuna/scoreline/internal/reconcile"
	"github.com/fortuna/scoreline/internal/store"
)

type fakeApplier struct {
	mu   sync.Mutex
	got  []provider.LiveMatch
	fail error
}

func (f *fakeApplier) ApplyPush(_ context.Context, lm provider.LiveMatch) (reconcile.MatchOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return reconcile.MatchOutcome{}, f.fail
	}
	f.got = append(f.got, lm)
	return reconcile.MatchOutcome{MatchID: lm.ID, Status: reconcile.StatusUpdated}, nil
}

func newTestConsumer(a Applier) *Consumer {
	c := NewConsumer("nats://127.0.0.1:4222", "provider.match.live", a)
	c.Now = func() time.Time { return time.Unix(1767003000, 0) }
	return c
}

func TestHandleAppliesPayload(t *testing.T) {
	a := &fakeApplier{}
	c := newTestConsumer(a)

	payload := []byte(`{"id":"m1","score":["m1",4,[1,0,0,0,0,0,0],[0,0,0,0,0,0,0],1767001200],"incidents":[{"type":1,"position":1,"time":75,"player_id":"p9"}]}`)
	require.NoError(t, c.Handle(context.Background(), payload))

	require.Len(t, a.got, 1)
	lm := a.got[0]
	assert.Equal(t, "m1", lm.ID)
	assert.Equal(t, store.StatusSecondHalf, lm.Status)
	assert.Equal(t, 76, *lm.Minute)
	require.Len(t, lm.Incidents, 1)

	assert.Equal(t, Stats{Received: 1, Applied: 1}, c.Stats())
}

func TestHandleRejectsMalformed(t *testing.T) {
	a := &fakeApplier{}
	c := newTestConsumer(a)

	err := c.Handle(context.Background(), []byte(`{"id":"m1","score":[2]}`))
	assert.ErrorIs(t, err, provider.ErrMalformed)
	assert.Empty(t, a.got)
	assert.Equal(t, Stats{Received: 1, Malformed: 1}, c.Stats())
}

func TestHandleReportsApplyFailure(t *testing.T) {
	a := &fakeApplier{fail: errors.New("connection refused")}
	c := newTestConsumer(a)

	err := c.Handle(context.Background(), []byte(`{"id":"m1","score":["m1",2,[0],[0]]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply push for m1")
	assert.Equal(t, int64(1), c.Stats().Failed)
}
