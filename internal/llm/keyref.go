package llm

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Harshitk-cp/credence/internal/safeio"
)

// MaxKeyFileBytes caps key files read through file:// references.
const MaxKeyFileBytes = 4096

var (
	ErrNoKeyDir  = errors.New("file key references are disabled: no key directory configured")
	ErrBadKeyRef = errors.New("unsupported key reference")
	ErrEmptyKey  = errors.New("key reference resolved to an empty value")
)

// KeyResolver turns key references from provider entries into secrets. Two
// forms are accepted: "env:NAME" reads an environment variable, and
// "file://path" reads a regular file confined to the configured key
// directory. Trust entries carry the reference, never the secret, so graphs
// stay safe to export and merge.
type KeyResolver struct {
	keyDir string
}

// NewKeyResolver builds a resolver. An empty keyDir disables file
// references entirely.
func NewKeyResolver(keyDir string) *KeyResolver {
	return &KeyResolver{keyDir: keyDir}
}

// Resolve returns the secret for ref, or "" when ref is empty (keyless
// providers such as local Ollama).
func (r *KeyResolver) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return "", nil

	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimPrefix(ref, "env:")
		val := strings.TrimSpace(os.Getenv(name))
		if val == "" {
			return "", fmt.Errorf("%w: environment variable %s", ErrEmptyKey, name)
		}
		return val, nil

	case strings.HasPrefix(ref, "file://"):
		if r.keyDir == "" {
			return "", ErrNoKeyDir
		}
		path, err := safeio.ResolveInDir(r.keyDir, strings.TrimPrefix(ref, "file://"))
		if err != nil {
			return "", fmt.Errorf("key file %s: %w", ref, err)
		}
		data, err := safeio.ReadFileCapped(path, MaxKeyFileBytes)
		if err != nil {
			return "", fmt.Errorf("key file %s: %w", ref, err)
		}
		val := strings.TrimSpace(string(data))
		if val == "" {
			return "", fmt.Errorf("%w: %s", ErrEmptyKey, ref)
		}
		return val, nil

	default:
		return "", fmt.Errorf("%w: %q", ErrBadKeyRef, ref)
	}
}
