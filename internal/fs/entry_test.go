package fs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryFromPath(t *testing.T) {
	t.Run("captures file metadata", func(t *testing.T) {
		// Arrange
		dir := t.TempDir()
		path := filepath.Join(dir, "doc.txt")
		require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

		// Act
		entry, err := EntryFromPath(path)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "doc.txt", entry.Name)
		assert.Equal(t, path, entry.Path)
		assert.Equal(t, int64(5), entry.Size)
		assert.False(t, entry.IsDir)
		assert.False(t, entry.IsSymlink)
		assert.WithinDuration(t, time.Now(), entry.Modified, time.Minute)
		assert.NotZero(t, entry.Inode)
	})

	t.Run("directory is flagged", func(t *testing.T) {
		dir := t.TempDir()
		entry, err := EntryFromPath(dir)
		require.NoError(t, err)
		assert.True(t, entry.IsDir)
	})

	t.Run("symlink describes the link itself", func(t *testing.T) {
		// Arrange
		dir := t.TempDir()
		target := filepath.Join(dir, "target.txt")
		require.NoError(t, os.WriteFile(target, []byte("payload"), 0o644))
		link := filepath.Join(dir, "link")
		require.NoError(t, os.Symlink(target, link))

		// Act
		entry, err := EntryFromPath(link)

		// Assert
		require.NoError(t, err)
		assert.True(t, entry.IsSymlink)
		assert.False(t, entry.IsDir)
	})

	t.Run("missing path is not-found", func(t *testing.T) {
		_, err := EntryFromPath(filepath.Join(t.TempDir(), "gone"))
		var notFound NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}

func TestEntry_IsHidden(t *testing.T) {
	assert.True(t, Entry{Name: ".bashrc"}.IsHidden())
	assert.False(t, Entry{Name: "readme.md"}.IsHidden())
	assert.False(t, Entry{Name: "trailing.dot."}.IsHidden())
}

func TestEntry_Extension(t *testing.T) {
	assert.Equal(t, "txt", Entry{Path: "/a/b.txt"}.Extension())
	assert.Equal(t, "gz", Entry{Path: "/a/archive.tar.gz"}.Extension())
	assert.Equal(t, "jpg", Entry{Path: "/a/PHOTO.JPG"}.Extension())
	assert.Equal(t, "", Entry{Path: "/a/Makefile"}.Extension())
}
