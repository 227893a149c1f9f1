package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Harshitk-cp/credence/internal/canon"
	"github.com/Harshitk-cp/credence/internal/domain"
	"github.com/Harshitk-cp/credence/internal/safeio"
)

const (
	// StateVersion is the newest line-record schema this build understands.
	StateVersion = 1
	// MaxStateBytes rejects outsized state files before any parsing.
	MaxStateBytes = 64 << 20

	lineHeader       = "header"
	lineConversation = "conversation"
	lineTrust        = "trust"
)

// stateLine is one NDJSON record. Type discriminates which payload field is
// set.
type stateLine struct {
	Type    string               `json:"type"`
	Version int                  `json:"version,omitempty"`
	SavedAt *time.Time           `json:"saved_at,omitempty"`
	App     string               `json:"app,omitempty"`
	Node    *domain.Conversation `json:"node,omitempty"`
	Entry   *domain.TrustEntry   `json:"entry,omitempty"`
}

// LoadOptions selects strict validation (malformed records are errors) or
// the permissive default, where missing fields are repaired. Malformed JSON
// lines are errors in both modes; only field-level problems are defaulted.
type LoadOptions struct {
	Strict bool
}

// LoadedState is a parsed snapshot ready to swap into the stores.
type LoadedState struct {
	Version       int
	SavedAt       time.Time
	Trust         []domain.TrustEntry
	Conversations []domain.Conversation
}

// LoadState reads and parses the NDJSON state file. The read itself rejects
// symlinks and files over MaxStateBytes before parsing. A missing file is
// surfaced as-is so boot can treat it as a fresh start.
func LoadState(path string, opts LoadOptions) (*LoadedState, error) {
	data, err := safeio.ReadFileCapped(path, MaxStateBytes)
	if err != nil {
		return nil, err
	}
	return ParseState(data, opts)
}

// ParseState decodes NDJSON state content. The same format serves the local
// state file, the export endpoint, and remote authority tables.
func ParseState(data []byte, opts LoadOptions) (*LoadedState, error) {
	state := &LoadedState{Version: StateVersion}
	seenTrust := make(map[string]bool)
	seenConv := make(map[string]bool)
	sawHeader := false

	for i, raw := range bytes.Split(data, []byte("\n")) {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}
		var line stateLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrBadStateLine, i+1, err)
		}

		switch line.Type {
		case lineHeader:
			sawHeader = true
			if line.Version > StateVersion {
				if opts.Strict {
					return nil, fmt.Errorf("%w: line %d: state version %d newer than %d", ErrBadStateLine, i+1, line.Version, StateVersion)
				}
			} else if line.Version > 0 {
				state.Version = line.Version
			}
			if line.SavedAt != nil {
				state.SavedAt = line.SavedAt.UTC()
			}
		case lineConversation:
			if line.Node == nil {
				if opts.Strict {
					return nil, fmt.Errorf("%w: line %d: conversation record without node", ErrBadStateLine, i+1)
				}
				continue
			}
			node, err := normalizeConversation(line.Node, opts)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
			if seenConv[node.ID] {
				if opts.Strict {
					return nil, fmt.Errorf("%w: line %d: conversation %s", ErrDuplicateID, i+1, node.ID)
				}
				continue
			}
			seenConv[node.ID] = true
			state.Conversations = append(state.Conversations, *node)
		case lineTrust:
			if line.Entry == nil {
				if opts.Strict {
					return nil, fmt.Errorf("%w: line %d: trust record without entry", ErrBadStateLine, i+1)
				}
				continue
			}
			entry, err := normalizeEntry(line.Entry, opts)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
			if seenTrust[entry.ID] {
				if opts.Strict {
					return nil, fmt.Errorf("%w: line %d: trust entry %s", ErrDuplicateID, i+1, entry.ID)
				}
				continue
			}
			seenTrust[entry.ID] = true
			state.Trust = append(state.Trust, *entry)
		default:
			if opts.Strict {
				return nil, fmt.Errorf("%w: line %d: unknown record type %q", ErrBadStateLine, i+1, line.Type)
			}
		}
	}

	if opts.Strict && !sawHeader {
		return nil, fmt.Errorf("%w: missing header record", ErrBadStateLine)
	}
	return state, nil
}

// normalizeEntry re-canonicalizes a loaded entry. Content is the source of
// truth: all envelope fields are re-derived from it, and an entry without
// content is rebuilt from its envelope.
func normalizeEntry(e *domain.TrustEntry, opts LoadOptions) (*domain.TrustEntry, error) {
	if strings.TrimSpace(e.Content) == "" {
		cp := *e
		canon.Finalize(&cp)
		return &cp, nil
	}
	now := e.Time
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return canon.Canonicalize(e.Content, canon.Options{Strict: opts.Strict, Now: now})
}

func normalizeConversation(c *domain.Conversation, opts LoadOptions) (*domain.Conversation, error) {
	cp := *c
	cp.Children = nil
	cp.Messages = make([]domain.Message, len(c.Messages))
	copy(cp.Messages, c.Messages)

	if cp.ID == "" {
		if opts.Strict {
			return nil, fmt.Errorf("%w: conversation without id", ErrBadStateLine)
		}
		cp.ID = uuid.NewString()
	}
	for i := range cp.Messages {
		m := &cp.Messages[i]
		if m.ID == "" {
			if opts.Strict {
				return nil, fmt.Errorf("%w: message without id in conversation %s", ErrBadStateLine, cp.ID)
			}
			m.ID = uuid.NewString()
		}
		if !domain.ValidRole(m.Role) {
			if opts.Strict {
				return nil, fmt.Errorf("%w: message %s has role %q", ErrBadStateLine, m.ID, m.Role)
			}
			m.Role = domain.RoleUser
		}
		m.Time = m.Time.UTC()
	}
	return &cp, nil
}

// EncodeState renders the NDJSON form: header first, then conversations,
// then trust entries, one record per line, in store order.
func EncodeState(trust []domain.TrustEntry, conversations []domain.Conversation) ([]byte, error) {
	var buf bytes.Buffer
	now := time.Now().UTC()
	lines := make([]stateLine, 0, 1+len(conversations)+len(trust))
	lines = append(lines, stateLine{Type: lineHeader, Version: StateVersion, SavedAt: &now, App: "credence"})
	for i := range conversations {
		lines = append(lines, stateLine{Type: lineConversation, Node: &conversations[i]})
	}
	for i := range trust {
		lines = append(lines, stateLine{Type: lineTrust, Entry: &trust[i]})
	}
	for _, line := range lines {
		b, err := json.Marshal(line)
		if err != nil {
			return nil, fmt.Errorf("encode state line: %w", err)
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// SaveState writes the snapshot atomically: temp file in the same directory,
// fsync, rename.
func SaveState(path string, trust []domain.TrustEntry, conversations []domain.Conversation) error {
	data, err := EncodeState(trust, conversations)
	if err != nil {
		return err
	}
	return safeio.WriteFileAtomic(path, data, 0o644)
}
