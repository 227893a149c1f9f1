package domain

import (
	"math"
	"time"
)

type EntryKind string

const (
	KindFact      EntryKind = "fact"
	KindReference EntryKind = "reference"
	KindAnd       EntryKind = "and"
	KindOr        EntryKind = "or"
	KindNot       EntryKind = "not"
	KindNon       EntryKind = "non"
	KindProvider  EntryKind = "provider"
	KindAuthority EntryKind = "authority"
)

func ValidEntryKind(k string) bool {
	switch EntryKind(k) {
	case KindFact, KindReference, KindAnd, KindOr, KindNot, KindNon, KindProvider, KindAuthority:
		return true
	}
	return false
}

// Operator reports whether entries of this kind derive their certainty from
// child references instead of carrying their own evidence.
func (k EntryKind) Operator() bool {
	switch k {
	case KindAnd, KindOr, KindNot, KindNon:
		return true
	}
	return false
}

// Structural reports whether the kind describes graph machinery rather than
// retrievable knowledge. Structural entries are skipped when building prompts.
func (k EntryKind) Structural() bool {
	return k.Operator() || k == KindProvider || k == KindAuthority
}

// ChildBounds returns the permitted child-reference count for an operator
// kind. max == -1 means unbounded. Non-operator kinds take no children.
func (k EntryKind) ChildBounds() (min, max int) {
	switch k {
	case KindAnd, KindOr:
		return 2, -1
	case KindNot, KindNon:
		return 1, 1
	default:
		return 0, 0
	}
}

// ClampCertainty forces c into [-1, 1]. NaN collapses to 0 and negative zero
// is normalized to +0 so downstream hashing never sees the sign bit.
func ClampCertainty(c float64) float64 {
	switch {
	case math.IsNaN(c):
		return 0
	case c > 1:
		return 1
	case c < -1:
		return -1
	case c == 0:
		return 0
	}
	return c
}

// TrustEntry is one node in the belief graph. Content is the canonical
// self-describing fragment and is the source of truth; the envelope fields
// mirror its attributes.
type TrustEntry struct {
	ID        string    `json:"id"`
	Kind      EntryKind `json:"kind"`
	Certainty float64   `json:"certainty"`
	Title     string    `json:"title,omitempty"`
	Time      time.Time `json:"time"`
	Content   string    `json:"content"`

	// Text mirrors the fragment's inner text for fact and reference kinds.
	Text string `json:"text,omitempty"`
	// Href carries the link target of a reference entry.
	Href string `json:"href,omitempty"`
	// Source names the origin of an imported entry: the provider whose
	// response was folded back from a voting round, or the authority entry
	// whose table contributed it.
	Source string `json:"source,omitempty"`

	// Children holds ordered child-reference IDs for operator kinds.
	Children []string `json:"children,omitempty"`

	Provider  *ProviderSpec  `json:"provider,omitempty"`
	Authority *AuthoritySpec `json:"authority,omitempty"`

	// DerivedCertainty is attached transiently while serving a request and
	// is never persisted.
	DerivedCertainty *float64 `json:"-"`
}

// EffectiveCertainty prefers the transient derived value over the stored one.
func (e *TrustEntry) EffectiveCertainty() float64 {
	if e.DerivedCertainty != nil {
		return ClampCertainty(*e.DerivedCertainty)
	}
	return ClampCertainty(e.Certainty)
}

// PayloadEqual reports whether two entries carry the same canonical payload.
// Identity is payload equality, never coincidental ID match.
func (e *TrustEntry) PayloadEqual(o *TrustEntry) bool {
	if o == nil {
		return false
	}
	return e.Title == o.Title &&
		e.Time.Equal(o.Time) &&
		ClampCertainty(e.Certainty) == ClampCertainty(o.Certainty) &&
		e.Content == o.Content
}

const (
	// DefaultCallTimeout applies when a provider entry does not set one.
	DefaultCallTimeout = 30 * time.Second

	// DefaultAuthorityRefresh applies when an authority entry does not set a
	// refresh interval.
	DefaultAuthorityRefresh = 15 * time.Minute
)

// ProviderSpec describes one LLM backend referenced by a provider entry.
type ProviderSpec struct {
	Name           string  `json:"name"`
	Endpoint       string  `json:"endpoint"`
	Model          string  `json:"model"`
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty"`
	// KeyRef locates the API key: "env:NAME" or an allow-listed file:// URL.
	KeyRef string `json:"key_ref,omitempty"`
	// Prelim grants this provider sight of the preliminary primary exchange
	// during fan-out.
	Prelim   bool   `json:"prelim,omitempty"`
	TruthURL string `json:"truth_url,omitempty"`
}

func (p ProviderSpec) CallTimeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return DefaultCallTimeout
	}
	return time.Duration(p.TimeoutSeconds * float64(time.Second))
}

// AuthoritySpec describes a remote trust table referenced by an authority
// entry. Target is an https:// URL, an allow-listed file:// URL, or a DID.
type AuthoritySpec struct {
	Target         string  `json:"target"`
	ORCID          string  `json:"orcid,omitempty"`
	RefreshSeconds float64 `json:"refresh_seconds,omitempty"`
}

func (a AuthoritySpec) RefreshInterval() time.Duration {
	if a.RefreshSeconds <= 0 {
		return DefaultAuthorityRefresh
	}
	return time.Duration(a.RefreshSeconds * float64(time.Second))
}

// CertaintyTable maps entry ID to certainty for one request. It is seeded
// from stored certainties, overwritten by derivation, and never persisted.
type CertaintyTable map[string]float64

func (t CertaintyTable) ValueOr(id string, fallback float64) float64 {
	if v, ok := t[id]; ok {
		return v
	}
	return fallback
}

func (t CertaintyTable) Clone() CertaintyTable {
	out := make(CertaintyTable, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}
