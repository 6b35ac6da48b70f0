// Package storage holds the file primitives shared by the catalog stores.
package storage

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ReplaceFile atomically replaces path with what write produces. The content
// goes to a temp file in the same directory, is synced and then renamed over
// path, and the directory is synced after the rename. If anything fails before
// the rename the temp file is removed and path is left untouched.
func ReplaceFile(path string, write func(w io.Writer) error) error {
	return replaceFile(path, write, nil)
}

func replaceFile(path string, write func(w io.Writer) error, beforeRename func() error) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	mode := os.FileMode(0o644)
	if fi, statErr := os.Stat(path); statErr == nil {
		mode = fi.Mode().Perm()
	}
	if err = tmp.Chmod(mode); err != nil {
		return fmt.Errorf("chmod temp for %s: %w", path, err)
	}

	bw := bufio.NewWriter(tmp)
	if err = write(bw); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err = bw.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if beforeRename != nil {
		if err = beforeRename(); err != nil {
			return err
		}
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	// the rename is only durable once the directory entry is on disk
	if err := syncDir(dir); err != nil {
		return fmt.Errorf("sync dir of %s: %w", path, err)
	}
	return nil
}

var syncDir = func(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		d.Close()
		return err
	}
	return d.Close()
}

// Replacer is ReplaceFile with a hook run between sync and rename. Stores
// use it to inject failures in tests.
type Replacer struct {
	BeforeRename func() error
}

func (r Replacer) Replace(path string, write func(w io.Writer) error) error {
	return replaceFile(path, write, r.BeforeRename)
}
