package modelsync

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/frecency/core"
	"github.com/rushteam/frecency/store"
)

type brokenStore struct {
	*store.MemoryStore
	err error
}

func (b *brokenStore) Get(context.Context, string) ([]byte, error)       { return nil, b.err }
func (b *brokenStore) Set(context.Context, string, []byte, ...int) error { return b.err }

func TestSynchronizer_LoadInitial(t *testing.T) {
	var initial core.Vector
	initial[2] = 0.5
	s := New(store.NewMemoryStore(), "model1",
		WithModelNumber(1),
		WithInitialWeights(func() core.Vector { return initial }),
	)

	rec, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "model1", rec.Variation)
	assert.Equal(t, 1, rec.ModelNumber)
	assert.Equal(t, 0, rec.Version)
	assert.Equal(t, initial, rec.Weights)
}

func TestSynchronizer_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	now := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	s := New(st, "model2", WithModelNumber(2), WithClock(func() time.Time { return now }))

	var w core.Vector
	for i := range w {
		w[i] = float64(i) / 10
	}
	require.NoError(t, s.Save(ctx, 7, w))

	rec, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, rec.Version)
	assert.Equal(t, w, rec.Weights)
	assert.True(t, now.Equal(rec.UpdatedAt))

	// 不同分组互不影响
	other, err := New(st, "control").Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, other.Version)

	require.NoError(t, s.Reset(ctx))
	rec, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Version)
}

func TestSynchronizer_StoreFailuresPropagate(t *testing.T) {
	boom := errors.New("connection refused")
	s := New(&brokenStore{MemoryStore: store.NewMemoryStore(), err: boom}, "model1")

	_, err := s.Load(context.Background())
	require.ErrorIs(t, err, ErrSyncFailed)
	assert.ErrorIs(t, err, boom)
	assert.True(t, core.IsUnavailable(err))

	err = s.Save(context.Background(), 1, core.Vector{})
	require.ErrorIs(t, err, ErrSyncFailed)
	assert.ErrorIs(t, err, boom)
}

func TestSynchronizer_CorruptRecord(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	s := New(st, "model1", WithKeyPrefix("t:"))
	assert.Equal(t, "t:model1", s.Key())

	require.NoError(t, st.Set(ctx, s.Key(), []byte("{not json")))
	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, ErrCorruptRecord)

	require.NoError(t, st.Set(ctx, s.Key(), []byte(`{"variation":"model2","weights":[]}`)))
	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestSynchronizer_WeightsLengthMismatch(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	s := New(st, "model1")

	weights := func(n int) string {
		parts := make([]string, n)
		for i := range parts {
			parts[i] = "1"
		}
		return "[" + strings.Join(parts, ",") + "]"
	}
	tests := map[string]string{
		"short":   `{"variation":"model1","weights":[1,2,3]}`,
		"long":    `{"variation":"model1","weights":` + weights(core.Dim+1) + `}`,
		"missing": `{"variation":"model1","version":2}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.Set(ctx, s.Key(), []byte(raw)))
			_, err := s.Load(ctx)
			assert.ErrorIs(t, err, ErrCorruptRecord)
		})
	}

	require.NoError(t, st.Set(ctx, s.Key(), []byte(`{"variation":"model1","version":2,"weights":`+weights(core.Dim)+`}`)))
	rec, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Version)
	assert.Equal(t, 1.0, rec.Weights[core.Dim-1])
}
