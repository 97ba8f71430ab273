// Package fsutil provides the atomic-replace write pattern used by every
// filesystem-backed store in the daemon (registry, token store, job
// store): write to a temp file in the same directory, then rename.
package fsutil

import (
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to path by writing to a sibling temp file
// and renaming it into place, so concurrent readers never observe a
// partially written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// WriteTextFileIfChanged writes content to path only if the file does not
// already contain it, reporting whether a write happened.
func WriteTextFileIfChanged(path string, content string, perm os.FileMode) (changed bool, err error) {
	existing, readErr := os.ReadFile(path)
	if readErr == nil && string(existing) == content {
		return false, nil
	}
	if err := WriteFileAtomic(path, []byte(content), perm); err != nil {
		return false, err
	}
	return true, nil
}
