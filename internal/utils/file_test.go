package utils

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsImageFile(t *testing.T) {
	t.Parallel()

	assert.True(t, IsImageFile("a/B.JPG"))
	assert.True(t, IsImageFile("x.webp"))
	assert.False(t, IsImageFile("notes.txt"))
	assert.False(t, IsImageFile("noext"))
}

func TestNewImagePaths(t *testing.T) {
	t.Parallel()

	p, err := NewImagePaths()
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^observations/[0-9a-f]{40}\.webp$`), p.Original)
	assert.Equal(t, p.Original[:len(p.Original)-5]+"_thumb.webp", p.Thumb)
	assert.Equal(t, p.Original[:len(p.Original)-5]+"_cropped.webp", p.Cropped)

	q, err := NewImagePaths()
	require.NoError(t, err)
	assert.NotEqual(t, p.Original, q.Original)
}

func TestListImageFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	for _, name := range []string{"b.png", "a.jpg", "sub/c.webp", "readme.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
	}

	files, err := ListImageFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.jpg"),
		filepath.Join(dir, "b.png"),
		filepath.Join(dir, "sub", "c.webp"),
	}, files)
	assert.True(t, FileExists(files[0]))
	assert.False(t, FileExists(dir))
}

func TestFormatFileSize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "512 B", FormatFileSize(512))
	assert.Equal(t, "1.5 KB", FormatFileSize(1536))
	assert.Equal(t, "2.0 MB", FormatFileSize(2*1024*1024))
}
