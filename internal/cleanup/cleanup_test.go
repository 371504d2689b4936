package cleanup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoreinstein/backsnap/internal/errors"
)

func TestStack_RunsInReverse(t *testing.T) {
	var order []string
	s := New()
	s.Push("first", func() error { order = append(order, "first"); return nil })
	s.Push("second", func() error { order = append(order, "second"); return nil })
	s.Push("third", func() error { order = append(order, "third"); return nil })
	assert.Equal(t, 3, s.Len())

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []string{"third", "second", "first"}, order)
	assert.Equal(t, 0, s.Len())
}

func TestStack_ContinuesAfterFailure(t *testing.T) {
	ran := 0
	boom := errors.New("boom")

	s := New()
	s.Push("ok", func() error { ran++; return nil })
	s.Push("fails", func() error { ran++; return boom })

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "fails")
	assert.Equal(t, 2, ran)
}

func TestStack_RunOnce(t *testing.T) {
	calls := 0
	s := New()
	s.Push("count", func() error { calls++; return nil })

	require.NoError(t, s.Run(context.Background()))
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestStack_PushAfterRunExecutesImmediately(t *testing.T) {
	s := New()
	require.NoError(t, s.Run(context.Background()))

	called := false
	s.Push("late", func() error { called = true; return nil })
	assert.True(t, called)
	assert.Equal(t, 0, s.Len())
}

func TestStack_ZeroValue(t *testing.T) {
	var s Stack
	called := false
	s.Push("x", func() error { called = true; return nil })
	require.NoError(t, s.Run(context.Background()))
	assert.True(t, called)
}
