package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.csv")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	err := ReplaceFile(path, func(w io.Writer) error {
		_, err := io.WriteString(w, "new\n")
		return err
	})
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new\n", string(b))
	assertNoTemp(t, filepath.Dir(path))
}

func TestReplaceFileFailureKeepsOriginal(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name     string
		write    func(w io.Writer) error
		replacer Replacer
	}{
		{
			name:  "write fails",
			write: func(w io.Writer) error { _, _ = io.WriteString(w, "partial"); return boom },
		},
		{
			name:     "fails before rename",
			write:    func(w io.Writer) error { _, err := io.WriteString(w, "new\n"); return err },
			replacer: Replacer{BeforeRename: func() error { return boom }},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "a.csv")
			require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

			err := tt.replacer.Replace(path, tt.write)
			assert.ErrorIs(t, err, boom)

			b, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, "old\n", string(b))
			assertNoTemp(t, dir)
		})
	}
}

func TestReplaceFileCreates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.json")
	require.NoError(t, ReplaceFile(path, func(w io.Writer) error {
		_, err := io.WriteString(w, "{}")
		return err
	}))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))
}

func assertNoTemp(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestReplaceFileSyncsDirAfterRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.csv")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	orig := syncDir
	t.Cleanup(func() { syncDir = orig })

	var synced []string
	syncDir = func(d string) error {
		// the new content must already be in place
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "new\n", string(b))
		synced = append(synced, d)
		return orig(d)
	}
	require.NoError(t, ReplaceFile(path, func(w io.Writer) error {
		_, err := io.WriteString(w, "new\n")
		return err
	}))
	assert.Equal(t, []string{dir}, synced)

	boom := errors.New("boom")
	syncDir = func(string) error { return boom }
	err := ReplaceFile(path, func(w io.Writer) error {
		_, err := io.WriteString(w, "newer\n")
		return err
	})
	assert.ErrorIs(t, err, boom)
	assertNoTemp(t, dir)
}
