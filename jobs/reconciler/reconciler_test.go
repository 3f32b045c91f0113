package reconciler

import (
	"context"
	"errors"
	"testing"

	"perpx/infra/outbox"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type resyncCall struct {
	market  string
	traders []string
}

type fakeEngine struct {
	calls []resyncCall
	fail  map[string]error
	ob    *outbox.Outbox
}

func (f *fakeEngine) Resync(_ context.Context, market string, traders []string) error {
	f.calls = append(f.calls, resyncCall{market, traders})
	if err := f.fail[market]; err != nil {
		return err
	}
	return f.ob.Clear(market, traders)
}

func TestOnceGroupsPendingByMarket(t *testing.T) {
	ob, err := outbox.OpenInMemory()
	require.NoError(t, err)
	defer ob.Close()

	require.NoError(t, ob.MarkPending("OIL-PERP", []string{"0xb", "0xa"}))
	require.NoError(t, ob.MarkFailed("OIL-PERP", []string{"0xb", "0xa"}))
	require.NoError(t, ob.MarkPending("GOLD-PERP", []string{"0xc"}))

	eng := &fakeEngine{ob: ob, fail: map[string]error{"GOLD-PERP": errors.New("chain down")}}
	r := New(ob, eng, 0, zap.NewNop())

	n, err := r.Once(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []resyncCall{
		{"GOLD-PERP", []string{"0xc"}},
		{"OIL-PERP", []string{"0xa", "0xb"}},
	}, eng.calls)

	left, err := ob.Pending()
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "GOLD-PERP", left[0].Market)

	// Next pass converges once the chain is back.
	eng.fail = nil
	n, err = r.Once(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err = ob.Pending()
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestOnceWithNothingPending(t *testing.T) {
	ob, err := outbox.OpenInMemory()
	require.NoError(t, err)
	defer ob.Close()

	eng := &fakeEngine{ob: ob}
	n, err := New(ob, eng, 0, zap.NewNop()).Once(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, eng.calls)
}
