package filter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain_EmptyIncludesEverything(t *testing.T) {
	t.Parallel()
	c := NewChain()
	assert.True(t, c.Match("IMG_0001.jpg", false, 10))
	assert.True(t, c.Match("sub/VID_0002.mp4", false, 10))
	assert.True(t, c.Match("sub", true, 0))
}

func TestChain_FirstMatchWins(t *testing.T) {
	t.Parallel()
	c := NewChain()
	require.NoError(t, c.AddInclude("keep.tmp"))
	require.NoError(t, c.AddExclude("*.tmp"))

	assert.True(t, c.Match("keep.tmp", false, 1))
	assert.False(t, c.Match("other.tmp", false, 1))
	assert.True(t, c.Match("photo.jpg", false, 1))
	assert.Equal(t, 2, c.Len())
}

func TestChain_IgnoreCase(t *testing.T) {
	t.Parallel()

	sensitive := NewChain()
	require.NoError(t, sensitive.AddInclude("*.jpg"))
	require.NoError(t, sensitive.AddExclude("*"))
	assert.False(t, sensitive.Match("IMG_0001.JPG", false, 1))

	insensitive := NewChain()
	insensitive.IgnoreCase(true)
	require.NoError(t, insensitive.AddInclude("*.jpg"))
	require.NoError(t, insensitive.AddExclude("*"))
	assert.True(t, insensitive.Match("IMG_0001.JPG", false, 1))
	assert.True(t, insensitive.Match("img_0002.jpg", false, 1))
	assert.False(t, insensitive.Match("clip.mp4", false, 1))
}

func TestChain_SkipHidden(t *testing.T) {
	t.Parallel()
	c := NewChain()
	c.SkipHidden(true)

	tests := []struct {
		path string
		want bool
	}{
		{"IMG_0001.jpg", true},
		{".trashed-1700000000-IMG_0003.jpg", false},
		{".thumbnails/123.jpg", false},
		{"burst/.pending-IMG.jpg", false},
		{"burst/IMG_0004.jpg", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Match(tt.path, false, 1), tt.path)
	}
}

func TestChain_SizeLimits(t *testing.T) {
	t.Parallel()
	c := NewChain()
	c.SetMinSize(100)
	c.SetMaxSize(1000)

	assert.False(t, c.Match("tiny.jpg", false, 99))
	assert.True(t, c.Match("ok.jpg", false, 100))
	assert.True(t, c.Match("ok.jpg", false, 1000))
	assert.False(t, c.Match("huge.mp4", false, 1001))
	// directories are never size-filtered
	assert.True(t, c.Match("dir", true, 0))
}

func TestChain_DirOnlyRule(t *testing.T) {
	t.Parallel()
	c := NewChain()
	require.NoError(t, c.AddExclude("cache/"))

	assert.False(t, c.Match("cache", true, 0))
	assert.True(t, c.Match("cache", false, 5))
}

func TestLoadFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "rules")
	content := "# camera rules\n\n+ *.jpg\n+ *.mp4\n- *.tmp\n*\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	c := NewChain()
	require.NoError(t, c.LoadFile(path))
	assert.Equal(t, 4, c.Len())

	assert.True(t, c.Match("IMG_0001.jpg", false, 1))
	assert.True(t, c.Match("VID_0001.mp4", false, 1))
	assert.False(t, c.Match("x.tmp", false, 1))
	assert.False(t, c.Match("notes.txt", false, 1))
}

func TestLoadFile_Missing(t *testing.T) {
	t.Parallel()
	err := NewChain().LoadFile(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open filter file")
}
