package llm

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Harshitk-cp/credence/internal/safeio"
)

func TestKeyResolverEmptyRef(t *testing.T) {
	r := NewKeyResolver("")
	got, err := r.Resolve("")
	if err != nil {
		t.Fatalf("Resolve(\"\") error: %v", err)
	}
	if got != "" {
		t.Errorf("Resolve(\"\") = %q, want empty", got)
	}
}

func TestKeyResolverEnv(t *testing.T) {
	t.Setenv("CREDENCE_TEST_KEY", "  sk-abc123  ")

	r := NewKeyResolver("")
	got, err := r.Resolve("env:CREDENCE_TEST_KEY")
	if err != nil {
		t.Fatalf("Resolve(env:) error: %v", err)
	}
	if got != "sk-abc123" {
		t.Errorf("Resolve(env:) = %q, want trimmed value", got)
	}
}

func TestKeyResolverEnvUnset(t *testing.T) {
	t.Setenv("CREDENCE_TEST_EMPTY", "")

	r := NewKeyResolver("")
	if _, err := r.Resolve("env:CREDENCE_TEST_EMPTY"); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Resolve(unset env) error = %v, want ErrEmptyKey", err)
	}
}

func TestKeyResolverFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "openai.key"), []byte("sk-file-key\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	r := NewKeyResolver(dir)
	got, err := r.Resolve("file://openai.key")
	if err != nil {
		t.Fatalf("Resolve(file://) error: %v", err)
	}
	if got != "sk-file-key" {
		t.Errorf("Resolve(file://) = %q, want trimmed file contents", got)
	}
}

func TestKeyResolverFileWithoutKeyDir(t *testing.T) {
	r := NewKeyResolver("")
	if _, err := r.Resolve("file://openai.key"); !errors.Is(err, ErrNoKeyDir) {
		t.Errorf("Resolve without key dir error = %v, want ErrNoKeyDir", err)
	}
}

func TestKeyResolverFileTraversalRejected(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(filepath.Dir(dir), "outside.key")
	if err := os.WriteFile(outside, []byte("leak"), 0o600); err != nil {
		t.Fatal(err)
	}

	r := NewKeyResolver(dir)
	if _, err := r.Resolve("file://../outside.key"); !errors.Is(err, safeio.ErrOutsideRoot) {
		t.Errorf("Resolve(traversal) error = %v, want ErrOutsideRoot", err)
	}
}

func TestKeyResolverFileSymlinkEscapeRejected(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(filepath.Dir(dir), "secret.key")
	if err := os.WriteFile(outside, []byte("sk-secret"), 0o600); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link.key")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	r := NewKeyResolver(dir)
	if _, err := r.Resolve("file://link.key"); !errors.Is(err, safeio.ErrOutsideRoot) {
		t.Errorf("Resolve(escaping symlink) error = %v, want ErrOutsideRoot", err)
	}
}

func TestKeyResolverUnknownScheme(t *testing.T) {
	r := NewKeyResolver(t.TempDir())
	for _, ref := range []string{"vault:secret", "https://example.com/key", "plainstring"} {
		if _, err := r.Resolve(ref); !errors.Is(err, ErrBadKeyRef) {
			t.Errorf("Resolve(%q) error = %v, want ErrBadKeyRef", ref, err)
		}
	}
}

func TestKeyResolverEmptyKeyFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "blank.key"), []byte("  \n"), 0o600); err != nil {
		t.Fatal(err)
	}

	r := NewKeyResolver(dir)
	if _, err := r.Resolve("file://blank.key"); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Resolve(blank file) error = %v, want ErrEmptyKey", err)
	}
}
