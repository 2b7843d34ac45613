package wal

import (
	"os"
	"path/filepath"
)

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// FileSize returns the size of a file in bytes.
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Exists reports whether dataDir already holds a log of either kind.
func Exists(dataDir string) bool {
	return FileExists(filepath.Join(dataDir, FileName)) ||
		FileExists(filepath.Join(dataDir, CompressedFileName))
}
