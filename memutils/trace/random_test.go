package trace_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/mmheap/memutils/trace"
)

func TestRandomIsDeterministic(t *testing.T) {
	options := trace.RandomOptions{Ops: 500, MaxSize: 128, ResizePercent: 25}

	first := trace.Random(99, options)
	second := trace.Random(99, options)
	require.Equal(t, first, second)

	other := trace.Random(100, options)
	require.NotEqual(t, first.Ops, other.Ops)
}

func TestRandomIsValid(t *testing.T) {
	tr := trace.Random(5, trace.RandomOptions{Ops: 1000, MaxSize: 64, ResizePercent: 30})
	require.Len(t, tr.Ops, 1000)
	require.NoError(t, tr.Validate())

	var sawResize bool
	for _, op := range tr.Ops {
		if op.Kind != trace.OpFree {
			require.GreaterOrEqual(t, op.Size, 1)
			require.LessOrEqual(t, op.Size, 64)
		}
		sawResize = sawResize || op.Kind == trace.OpResize
	}
	require.True(t, sawResize)

	var buf bytes.Buffer
	_, err := tr.WriteTo(&buf)
	require.NoError(t, err)

	reparsed, err := trace.Parse(&buf)
	require.NoError(t, err)
	require.Equal(t, tr, reparsed)
}

func TestRandomDefaults(t *testing.T) {
	tr := trace.Random(1, trace.RandomOptions{})
	require.Len(t, tr.Ops, 1000)
	require.NoError(t, tr.Validate())

	for _, op := range tr.Ops {
		require.NotEqual(t, trace.OpResize, op.Kind)
	}
}

func TestRandomFreeAll(t *testing.T) {
	tr := trace.Random(3, trace.RandomOptions{Ops: 200, FreeAll: true})
	require.GreaterOrEqual(t, len(tr.Ops), 200)
	require.NoError(t, tr.Validate())

	live := map[int]bool{}
	for _, op := range tr.Ops {
		switch op.Kind {
		case trace.OpAllocate:
			live[op.ID] = true
		case trace.OpFree:
			delete(live, op.ID)
		}
	}
	require.Empty(t, live)
}
