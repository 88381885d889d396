package persist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNeedsNormalization(t *testing.T) {
	require.False(t, NeedsNormalization(nil))
	require.False(t, NeedsNormalization([]any{map[string]any{"id": "a"}, map[string]any{"id": "b"}}))
	require.True(t, NeedsNormalization([]any{"x"}))
	require.True(t, NeedsNormalization([]any{map[string]any{"id": 1}}))
	require.True(t, NeedsNormalization([]any{map[string]any{"id": ""}}))
	require.True(t, NeedsNormalization([]any{map[string]any{"id": "a"}, map[string]any{"id": "a"}}))
}

func TestNormalizeCollection_DoesNotMutateInput(t *testing.T) {
	in := map[string]any{"id": "a"}
	dup := map[string]any{"id": "a", "n": 2}
	out := NormalizeCollection([]any{in, dup})
	require.Len(t, out, 2)
	require.Equal(t, "a", out[0]["id"])
	require.NotEqual(t, "a", out[1]["id"])
	require.Equal(t, "a", dup["id"])
	require.False(t, NeedsNormalization(toAny(out)))
}

func TestMergeOverridesID(t *testing.T) {
	got := merge(Record{"id": "old", "a": 1}, Record{"id": "other", "b": 2}, "x")
	require.Equal(t, Record{"id": "x", "a": 1, "b": 2}, got)
}

func TestGenIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for range 100 {
		id := GenID()
		require.NotEmpty(t, id)
		require.False(t, seen[id])
		seen[id] = true
	}
}

func TestNormalizeCollection_EmptyIDGetsFreshID(t *testing.T) {
	out := NormalizeCollection([]any{map[string]any{"id": "", "text": "a"}})
	require.Len(t, out, 1)
	require.NotEmpty(t, out[0]["id"])
	require.Equal(t, "a", out[0]["text"])
}
