package screen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferCurrentEqualsRawWithoutMarkers(t *testing.T) {
	b := NewBuffer(0)
	b.Append("hello ")
	b.Append("world")
	require.Equal(t, "hello world", b.Current())
	require.Equal(t, "hello world", b.Raw())
}

func TestBufferClearScreenMarkers(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{"erase display", "old\x1b[2Jnew", "new"},
		{"erase with scrollback", "old\x1b[3Jnew", "new"},
		{"terminal reset", "old\x1bcnew", "new"},
		{"home then erase", "old\x1b[H\x1b[2Jnew", "new"},
		{"last marker wins", "a\x1b[2Jb\x1b[2Jc", "c"},
		{"marker at end", "abc\x1b[2J", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuffer(0)
			b.Append(tt.input)
			require.Equal(t, tt.expect, b.Current())
		})
	}
}

func TestBufferMarkerSplitAcrossAppends(t *testing.T) {
	// The scan covers the whole buffer, not just the new fragment, so a
	// marker arriving in two pieces is still found.
	b := NewBuffer(0)
	b.Append("old\x1b[2")
	b.Append("Jnew")
	require.Equal(t, "new", b.Current())
}

func TestBufferCurrentIsAlwaysSuffix(t *testing.T) {
	b := NewBuffer(4096)
	fragments := []string{
		"boot\n",
		strings.Repeat("x", 3000),
		"\x1b[2Jrepaint one",
		strings.Repeat("y", 3000),
		"tail",
		"\x1b[H\x1b[2Jrepaint two\n",
		strings.Repeat("z", 5000),
	}
	for _, f := range fragments {
		b.Append(f)
		require.True(t, strings.HasSuffix(b.Raw(), b.Current()),
			"current screen must be a suffix of the raw buffer")
	}
}

func TestBufferTruncationKeepsTrailingContent(t *testing.T) {
	b := NewBuffer(1000)
	b.Append(strings.Repeat("a", 900))
	b.Append(strings.Repeat("b", 900))
	// Over capacity the buffer keeps the trailing 75%.
	require.Equal(t, 750, b.Len())
	require.Equal(t, strings.Repeat("b", 750), b.Raw())
	require.Equal(t, b.Raw(), b.Current())
}

func TestBufferClear(t *testing.T) {
	b := NewBuffer(0)
	b.Append("content")
	b.Clear()
	require.Equal(t, "", b.Current())
	require.Equal(t, 0, b.Len())
	// Clearing twice leaves the same empty state.
	b.Clear()
	require.Equal(t, "", b.Current())
	require.Equal(t, 0, b.Len())
}
