package safeio

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveInDir(t *testing.T) {
	base := t.TempDir()
	inner := filepath.Join(base, "keys")
	if err := os.MkdirAll(inner, 0o755); err != nil {
		t.Fatal(err)
	}
	keyPath := filepath.Join(inner, "api.key")
	if err := os.WriteFile(keyPath, []byte("secret"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Run("relative target", func(t *testing.T) {
		got, err := ResolveInDir(base, "keys/api.key")
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasSuffix(got, filepath.Join("keys", "api.key")) {
			t.Errorf("resolved = %q", got)
		}
	})

	t.Run("absolute target inside base", func(t *testing.T) {
		if _, err := ResolveInDir(base, keyPath); err != nil {
			t.Errorf("in-base absolute path rejected: %v", err)
		}
	})

	t.Run("dotdot traversal rejected", func(t *testing.T) {
		_, err := ResolveInDir(base, "../../../etc/passwd")
		if !errors.Is(err, ErrOutsideRoot) {
			t.Errorf("err = %v, want ErrOutsideRoot", err)
		}
	})

	t.Run("absolute escape rejected", func(t *testing.T) {
		outside := filepath.Join(t.TempDir(), "other.txt")
		if err := os.WriteFile(outside, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
		_, err := ResolveInDir(base, outside)
		if !errors.Is(err, ErrOutsideRoot) {
			t.Errorf("err = %v, want ErrOutsideRoot", err)
		}
	})

	t.Run("symlink escape rejected", func(t *testing.T) {
		outside := filepath.Join(t.TempDir(), "loot.txt")
		if err := os.WriteFile(outside, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
		link := filepath.Join(base, "escape")
		if err := os.Symlink(outside, link); err != nil {
			t.Skipf("symlinks unavailable: %v", err)
		}
		_, err := ResolveInDir(base, "escape")
		if !errors.Is(err, ErrOutsideRoot) {
			t.Errorf("err = %v, want ErrOutsideRoot", err)
		}
	})

	t.Run("missing file errors", func(t *testing.T) {
		if _, err := ResolveInDir(base, "keys/nope.key"); err == nil {
			t.Error("missing file should not resolve")
		}
	})

	t.Run("empty target rejected", func(t *testing.T) {
		if _, err := ResolveInDir(base, "  "); !errors.Is(err, ErrOutsideRoot) {
			t.Error("empty target should be rejected")
		}
	})
}

func TestReadFileCapped(t *testing.T) {
	dir := t.TempDir()

	t.Run("reads within cap", func(t *testing.T) {
		p := filepath.Join(dir, "small.txt")
		if err := os.WriteFile(p, []byte("hello"), 0o600); err != nil {
			t.Fatal(err)
		}
		data, err := ReadFileCapped(p, 64)
		if err != nil || string(data) != "hello" {
			t.Errorf("data = %q, err = %v", data, err)
		}
	})

	t.Run("oversized rejected", func(t *testing.T) {
		p := filepath.Join(dir, "big.txt")
		if err := os.WriteFile(p, []byte(strings.Repeat("a", 100)), 0o600); err != nil {
			t.Fatal(err)
		}
		_, err := ReadFileCapped(p, 10)
		if !errors.Is(err, ErrTooLarge) {
			t.Errorf("err = %v, want ErrTooLarge", err)
		}
	})

	t.Run("symlink rejected", func(t *testing.T) {
		target := filepath.Join(dir, "target.txt")
		if err := os.WriteFile(target, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
		link := filepath.Join(dir, "link.txt")
		if err := os.Symlink(target, link); err != nil {
			t.Skipf("symlinks unavailable: %v", err)
		}
		_, err := ReadFileCapped(link, 64)
		if !errors.Is(err, ErrSymlink) {
			t.Errorf("err = %v, want ErrSymlink", err)
		}
	})

	t.Run("directory rejected", func(t *testing.T) {
		_, err := ReadFileCapped(dir, 64)
		if !errors.Is(err, ErrNotRegular) {
			t.Errorf("err = %v, want ErrNotRegular", err)
		}
	})
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "state.ndjson")

	if err := WriteFileAtomic(p, []byte("first\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WriteFileAtomic(p, []byte("second\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "second\n" {
		t.Errorf("content = %q", data)
	}

	// No temp droppings left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory should hold only the target, got %v", names)
	}
}

func TestWriteFileAtomic_MissingDir(t *testing.T) {
	err := WriteFileAtomic(filepath.Join(t.TempDir(), "missing", "state.ndjson"), []byte("x"), 0o644)
	if err == nil {
		t.Error("write into a missing directory should fail")
	}
}
