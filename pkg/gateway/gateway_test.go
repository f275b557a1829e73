package gateway

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/gregtusar/tradecore/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevokeShapes(t *testing.T) {
	book := map[string]bool{"a": true}
	cancelOne := func(no string) error {
		if !book[no] {
			return ErrOrderNotFound
		}
		delete(book, no)
		return nil
	}

	t.Run("all on empty book", func(t *testing.T) {
		res, err := Revoke(nil, func() ([]RevokeItem, error) { return nil, nil }, cancelOne)
		require.NoError(t, err)
		assert.Equal(t, RevokeAll, res.Mode)
		assert.NotNil(t, res.Items)
		assert.Empty(t, res.Items)
	})

	t.Run("one unknown", func(t *testing.T) {
		res, err := Revoke([]string{"zzz"}, nil, cancelOne)
		require.ErrorIs(t, err, ErrOrderNotFound)
		assert.Equal(t, RevokeOne, res.Mode)
		assert.Equal(t, "zzz", res.OrderNo)
	})

	t.Run("many mixed", func(t *testing.T) {
		res, err := Revoke([]string{"a", "b"}, nil, cancelOne)
		require.NoError(t, err)
		assert.Equal(t, RevokeMany, res.Mode)
		require.Len(t, res.Items, 2)
		assert.Equal(t, "a", res.Items[0].OrderNo)
		assert.NoError(t, res.Items[0].Err)
		assert.Equal(t, "b", res.Items[1].OrderNo)
		assert.ErrorIs(t, res.Items[1].Err, ErrOrderNotFound)
		assert.Len(t, res.Failed(), 1)
	})
}

type recorder struct {
	NopCallbacks
	name string
	log  *[]string
}

func (r recorder) OnKlineUpdate(context.Context, models.Kline) {
	*r.log = append(*r.log, r.name+":kline")
}

func (r recorder) OnStateUpdate(_ context.Context, s models.State) {
	*r.log = append(*r.log, r.name+":"+string(s.Code))
}

type panicker struct{ NopCallbacks }

func (panicker) OnKlineUpdate(context.Context, models.Kline) { panic("boom") }

func TestChainOrderAndRecover(t *testing.T) {
	var log []string
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	chain := NewChain(logger, recorder{name: "first", log: &log}, nil, panicker{}, recorder{name: "last", log: &log})
	require.Len(t, chain.Observers(), 3)

	chain.OnKlineUpdate(context.Background(), models.Kline{})
	assert.Equal(t, []string{
		"first:kline",
		"first:GENERAL_ERROR",
		"last:GENERAL_ERROR",
		"last:kline",
	}, log)
}

func TestLoopRunsInPostOrder(t *testing.T) {
	loop := NewLoop()
	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, loop.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	loop.Close()
	assert.False(t, loop.Post(func() {}))

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

