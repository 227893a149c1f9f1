// Package safeio guards every filesystem touch the trust store makes:
// allow-list confinement for file:// references, symlink and size rejection
// on reads, and temp+fsync+rename writes so a crash never leaves a
// half-written state file.
package safeio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrOutsideRoot = errors.New("path escapes the allowed directory")
	ErrSymlink     = errors.New("refusing symlink")
	ErrNotRegular  = errors.New("not a regular file")
	ErrTooLarge    = errors.New("file exceeds size limit")
)

// ResolveInDir resolves target against the allow-listed base directory and
// returns the symlink-free real path. Relative targets are joined onto base;
// absolute targets must already be inside it. Any escape, whether by ".."
// segments or by a symlink pointing outside, is an error; security
// rejections are never downgraded to empty results.
func ResolveInDir(base, target string) (string, error) {
	if strings.TrimSpace(target) == "" {
		return "", fmt.Errorf("%w: empty path", ErrOutsideRoot)
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("resolve base: %w", err)
	}
	realBase, err := filepath.EvalSymlinks(absBase)
	if err != nil {
		return "", fmt.Errorf("resolve base: %w", err)
	}

	p := target
	if !filepath.IsAbs(p) {
		p = filepath.Join(absBase, p)
	}
	p = filepath.Clean(p)

	real, err := filepath.EvalSymlinks(p)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", target, err)
	}
	if real != realBase && !strings.HasPrefix(real, realBase+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, target)
	}
	return real, nil
}

// ReadFileCapped reads a regular file of at most maxBytes. Symlinks are
// rejected before any byte is read, and a file that grows past the cap
// between stat and read is rejected too.
func ReadFileCapped(path string, maxBytes int64) ([]byte, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("%w: %s", ErrSymlink, path)
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegular, path)
	}
	if fi.Size() > maxBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrTooLarge, path, fi.Size(), maxBytes)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: %s (limit %d)", ErrTooLarge, path, maxBytes)
	}
	return data, nil
}

// WriteFileAtomic replaces path in one step: write to a temp file in the
// same directory, fsync, then rename over the target. Readers see either
// the old content or the new, never a partial write.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".credence-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}

	success = true
	return nil
}
